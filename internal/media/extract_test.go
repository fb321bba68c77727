package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRunsLocatedBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake shell executables are not supported on windows")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"# last argument is the output path\n" +
		"for out in \"$@\"; do :; done\n" +
		"printf 'RIFF' > \"$out\"\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))
	t.Setenv("CAPTIOND_FFMPEG_PATH", fake)

	wavPath := filepath.Join(dir, "audio.wav")
	f := NewFFmpeg(nil)
	require.True(t, f.Available())
	require.NoError(t, f.Extract(context.Background(), filepath.Join(dir, "clip.mp4"), wavPath))

	content, err := os.ReadFile(wavPath)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(content))
}

func TestExtractSurfacesToolDiagnostics(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake shell executables are not supported on windows")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho 'moov atom not found' >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))
	t.Setenv("CAPTIOND_FFMPEG_PATH", fake)

	f := NewFFmpeg(nil)
	err := f.Extract(context.Background(), "broken.mp4", filepath.Join(dir, "audio.wav"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "moov atom not found")
}

func TestExtractMissingOverridePath(t *testing.T) {
	t.Setenv("CAPTIOND_FFMPEG_PATH", filepath.Join(t.TempDir(), "nope"))

	f := NewFFmpeg(nil)
	require.False(t, f.Available())
	err := f.Extract(context.Background(), "clip.mp4", "audio.wav")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CAPTIOND_FFMPEG_PATH")
}

func TestExtractValidatesArguments(t *testing.T) {
	t.Parallel()

	f := NewFFmpeg(nil)
	require.Error(t, f.Extract(context.Background(), "", "out.wav"))
	require.Error(t, f.Extract(context.Background(), "in.mp4", ""))
}
