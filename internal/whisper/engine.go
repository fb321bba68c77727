package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEngineUnavailable is returned when transcription is requested but no
// engine could be initialized at startup.
var ErrEngineUnavailable = errors.New("speech engine is not available")

// Task selects what the engine does with the recognized speech.
type Task string

const (
	// TaskTranscribe emits text in the spoken language.
	TaskTranscribe Task = "transcribe"
	// TaskTranslate emits an English translation.
	TaskTranslate Task = "translate"
	// TaskTransliterate transcribes Hindi speech; the Latin-script
	// rendering is applied downstream, not by the engine.
	TaskTransliterate Task = "transliterate"
)

// ParseTask validates a caller-supplied task string. An empty string
// defaults to transcription.
func ParseTask(raw string) (Task, error) {
	switch Task(strings.TrimSpace(raw)) {
	case "", TaskTranscribe:
		return TaskTranscribe, nil
	case TaskTranslate:
		return TaskTranslate, nil
	case TaskTransliterate:
		return TaskTransliterate, nil
	default:
		return "", fmt.Errorf("invalid task %q: must be one of transcribe, translate, transliterate", raw)
	}
}

// engineMode maps a task onto the two modes the engine actually has.
// Transliteration is a post-processing concern and runs as transcription.
func (t Task) engineMode() Task {
	if t == TaskTransliterate {
		return TaskTranscribe
	}
	return t
}

// Request describes one transcription run.
type Request struct {
	AudioPath string
	// Language is an ISO-639-1-style hint; empty or "auto" lets the
	// engine detect the spoken language.
	Language string
	Task     Task
}

// Segment is one timestamped span of recognized speech.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Result is the engine output: the detected (or forced) language and the
// recognized segments in start-time order.
type Result struct {
	Language string
	Segments []Segment
}

// Engine runs speech recognition over an audio file.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}
