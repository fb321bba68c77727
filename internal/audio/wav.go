package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

// Info describes the format of a RIFF/WAVE file as read from its fmt
// and data chunks.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Frames        int64
}

// Duration returns the playable length of the data chunk in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate <= 0 {
		return 0
	}
	return float64(i.Frames) / float64(i.SampleRate)
}

// Duration reads the WAV file at path and returns its playable length
// in seconds.
func Duration(path string) (float64, error) {
	info, err := ReadInfo(path)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

// ReadInfo walks the chunk list of the WAV file at path and extracts
// the format description. Only uncompressed PCM (format 1) and IEEE
// float (format 3) files are accepted.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return Info{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Info{}, ErrInvalidWAV
	}

	var (
		audioFormat   uint16
		channels      uint16
		sampleRate    uint32
		blockAlign    uint16
		bitsPerSample uint16
		dataSize      uint32
		hasFmt        bool
		hasData       bool
	)

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Info{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		// Chunks are word-aligned; odd sizes carry a padding byte.
		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Info{}, ErrInvalidWAV
			}

			buf := make([]byte, 16)
			if _, err := io.ReadFull(f, buf); err != nil {
				return Info{}, fmt.Errorf("read wav fmt chunk: %w", err)
			}

			audioFormat = binary.LittleEndian.Uint16(buf[0:2])
			channels = binary.LittleEndian.Uint16(buf[2:4])
			sampleRate = binary.LittleEndian.Uint32(buf[4:8])
			blockAlign = binary.LittleEndian.Uint16(buf[12:14])
			bitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			hasFmt = true

			if _, err := f.Seek(skip-16, io.SeekCurrent); err != nil {
				return Info{}, fmt.Errorf("seek past wav fmt chunk: %w", err)
			}
		case "data":
			dataSize = chunkSize
			hasData = true
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return Info{}, fmt.Errorf("seek past wav data chunk: %w", err)
			}
		default:
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return Info{}, fmt.Errorf("seek past wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return Info{}, ErrInvalidWAV
	}

	if audioFormat != 1 && audioFormat != 3 {
		return Info{}, ErrUnsupportedWAV
	}
	if channels == 0 || sampleRate == 0 {
		return Info{}, ErrInvalidWAV
	}

	if blockAlign == 0 {
		blockAlign = channels * bitsPerSample / 8
	}
	if blockAlign == 0 {
		return Info{}, ErrUnsupportedWAV
	}

	return Info{
		SampleRate:    int(sampleRate),
		Channels:      int(channels),
		BitsPerSample: int(bitsPerSample),
		Frames:        int64(dataSize) / int64(blockAlign),
	}, nil
}
