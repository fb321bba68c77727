package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDurationOfMono16kWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 32000), 16000, 1), 0o644))

	seconds, err := Duration(path)
	require.NoError(t, err)
	require.InDelta(t, 2.0, seconds, 1e-9)
}

func TestReadInfoReportsFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 8000), 16000, 1), 0o644))

	info, err := ReadInfo(path)
	require.NoError(t, err)
	require.Equal(t, 16000, info.SampleRate)
	require.Equal(t, 1, info.Channels)
	require.Equal(t, 16, info.BitsPerSample)
	require.EqualValues(t, 8000, info.Frames)
}

func TestReadInfoStereoFrameCount(t *testing.T) {
	t.Parallel()

	// 8000 interleaved samples over two channels is 4000 frames.
	path := filepath.Join(t.TempDir(), "stereo.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(make([]int16, 8000), 16000, 2), 0o644))

	info, err := ReadInfo(path)
	require.NoError(t, err)
	require.Equal(t, 2, info.Channels)
	require.EqualValues(t, 4000, info.Frames)
	require.InDelta(t, 0.25, info.Duration(), 1e-9)
}

func TestReadInfoRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-wav.wav")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := ReadInfo(path)
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func TestReadInfoRejectsCompressedFormat(t *testing.T) {
	t.Parallel()

	data := makePCM16WAV(make([]int16, 100), 16000, 1)
	// Rewrite the audio format tag inside the fmt chunk to MP3 (0x0055).
	binary.LittleEndian.PutUint16(data[20:], 0x0055)

	path := filepath.Join(t.TempDir(), "mp3-in-wav.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := ReadInfo(path)
	require.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestDurationMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Duration(filepath.Join(t.TempDir(), "absent.wav"))
	require.Error(t, err)
}

func makePCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
