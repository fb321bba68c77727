package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no ffmpeg executable can be located.
var ErrNotFound = errors.New("ffmpeg executable not found")

const (
	// Extraction always produces mono 16 kHz PCM, the input format the
	// speech engine expects regardless of the source container.
	outputChannels   = 1
	outputSampleRate = 16000
)

// FFmpeg extracts audio tracks from video containers by shelling out to
// an ffmpeg binary. The binary is located on first use: the
// CAPTIOND_FFMPEG_PATH environment variable wins, otherwise PATH is
// searched.
type FFmpeg struct {
	Logger *zap.Logger

	lookupOnce sync.Once
	executable string
	lookupErr  error
}

func NewFFmpeg(logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{Logger: logger}
}

// Available reports whether an ffmpeg binary could be located.
func (f *FFmpeg) Available() bool {
	_, err := f.resolve()
	return err == nil
}

// Extract decodes the video at videoPath and writes its audio track as a
// mono 16 kHz WAV file to wavPath. On a non-zero ffmpeg exit the returned
// error carries the tool's trimmed stderr output.
func (f *FFmpeg) Extract(ctx context.Context, videoPath, wavPath string) error {
	if strings.TrimSpace(videoPath) == "" {
		return errors.New("video path is required")
	}
	if strings.TrimSpace(wavPath) == "" {
		return errors.New("output path is required")
	}

	executable, err := f.resolve()
	if err != nil {
		return err
	}

	args := []string{
		"-nostdin", "-hide_banner", "-y",
		"-i", videoPath,
		"-vn",
		"-ac", fmt.Sprintf("%d", outputChannels),
		"-ar", fmt.Sprintf("%d", outputSampleRate),
		"-f", "wav",
		wavPath,
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	f.Logger.Debug("running ffmpeg", zap.String("executable", executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		diagnostic := strings.TrimSpace(stderr.String())
		if diagnostic == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w (%s)", err, diagnostic)
	}

	return nil
}

func (f *FFmpeg) resolve() (string, error) {
	f.lookupOnce.Do(func() {
		if override := strings.TrimSpace(os.Getenv("CAPTIOND_FFMPEG_PATH")); override != "" {
			if _, err := os.Stat(override); err != nil {
				f.lookupErr = fmt.Errorf("CAPTIOND_FFMPEG_PATH is not usable: %w", err)
				return
			}
			f.executable = override
			return
		}

		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			f.lookupErr = fmt.Errorf("%w: %v", ErrNotFound, err)
			return
		}
		f.executable = path
	})

	return f.executable, f.lookupErr
}
