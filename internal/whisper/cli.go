package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// beamSize is the fixed beam-search width passed to whisper-cli. Wider
// beams cost latency; five matches the engine default recommended for
// server workloads and is deliberately not configurable per request.
const beamSize = 5

// CLIEngine runs speech recognition by invoking a whisper-cli binary
// (whisper.cpp) as a subprocess and parsing its JSON output.
type CLIEngine struct {
	Executable   string
	ModelPath    string
	VADModelPath string // empty disables voice-activity filtering
	Logger       *zap.Logger
}

// NewCLIEngine locates the whisper-cli binary and binds it to the given
// model. The CAPTIOND_WHISPER_PATH environment variable overrides
// discovery; otherwise PATH is searched, then locations near the captiond
// executable for bundled installs.
func NewCLIEngine(modelPath, vadModelPath string, logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is required")
	}

	executable, err := locateEngineBinary()
	if err != nil {
		return nil, err
	}

	return &CLIEngine{
		Executable:   executable,
		ModelPath:    modelPath,
		VADModelPath: vadModelPath,
		Logger:       logger,
	}, nil
}

func locateEngineBinary() (string, error) {
	if override := strings.TrimSpace(os.Getenv("CAPTIOND_WHISPER_PATH")); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("CAPTIOND_WHISPER_PATH is not executable: %w", err)
		}
		return override, nil
	}

	if path, err := exec.LookPath(engineBinaryName()); err == nil {
		return path, nil
	}

	selfExe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve captiond executable path: %w", err)
	}

	for _, candidate := range enginePathCandidates(selfExe) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("whisper engine binary %s not found on PATH or near %s; install whisper.cpp or set CAPTIOND_WHISPER_PATH", engineBinaryName(), selfExe)
}

func enginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, engineName),
	}
}

// cliOutput mirrors the JSON document whisper-cli writes with -oj.
// Offsets are milliseconds from the start of the audio.
type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs the engine over req.AudioPath and returns the detected
// language and timestamped segments. The subprocess blocks the calling
// goroutine for the duration of inference.
func (e *CLIEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	if e == nil {
		return Result{}, ErrEngineUnavailable
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		return Result{}, errors.New("audio path is required")
	}

	if err := ensureExecutable(e.Executable); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	outBase := filepath.Join(os.TempDir(), fmt.Sprintf("captiond-%d", time.Now().UnixNano()))
	jsonOut := outBase + ".json"

	args := []string{"-m", e.ModelPath, "-f", req.AudioPath, "-oj", "-of", outBase, "-np", "-bs", fmt.Sprintf("%d", beamSize)}
	if e.VADModelPath != "" {
		args = append(args, "--vad", "-vm", e.VADModelPath)
	}

	lang := strings.TrimSpace(strings.ToLower(req.Language))
	if lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.Task.engineMode() == TaskTranslate {
		args = append(args, "-tr")
	}

	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	e.logger().Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	started := time.Now()
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Result{}, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF or fix the library path", e.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Result{}, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set CAPTIOND_WHISPER_PATH to a whisper-cli binary built for your CPU")
		}
		return Result{}, fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
	}
	e.logger().Debug("whisper engine finished", zap.Duration("elapsed", time.Since(started)))

	defer os.Remove(jsonOut)
	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}

	return parseEngineOutput(content, req.Task)
}

func parseEngineOutput(content []byte, task Task) (Result, error) {
	var parsed cliOutput
	if err := json.Unmarshal(content, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse whisper output: %w", err)
	}

	segments := make([]Segment, 0, len(parsed.Transcription))
	for _, entry := range parsed.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start: float64(entry.Offsets.From) / 1000.0,
			End:   float64(entry.Offsets.To) / 1000.0,
			Text:  text,
		})
	}

	language := strings.TrimSpace(parsed.Result.Language)
	if language == "" {
		language = "unknown"
	}
	// Translation output is always English no matter what language the
	// engine detected in the source audio.
	if task == TaskTranslate {
		language = "en"
	}

	return Result{Language: language, Segments: segments}, nil
}

func (e *CLIEngine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
