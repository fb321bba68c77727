package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencaptions/captiond/internal/audio"
	"github.com/opencaptions/captiond/internal/whisper"
)

// supportedExtensions lists the video containers accepted for upload,
// matched case-insensitively against the uploaded filename.
var supportedExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}

// Segment is one caption line of the response. Index is the segment's
// 1-based position, recomputed for every request.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResponse is the /upload success body.
type TranscriptResponse struct {
	Language        string    `json:"language"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        []Segment `json:"segments"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleUpload runs the caption pipeline: validate, persist the upload
// into a scoped temp directory, extract audio, transcribe, optionally
// transliterate, and assemble the response. The temp directory is
// removed on every exit path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "speech model is not available; restart the server")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}

	if !hasSupportedExtension(filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	task, err := whisper.ParseTask(r.FormValue("task"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	language := strings.TrimSpace(r.FormValue("language"))

	started := time.Now()
	resp, err := s.process(r.Context(), file, filename, language, task)
	if err != nil {
		s.logger.Error("upload processing failed",
			zap.String("filename", filename),
			zap.String("task", string(task)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("internal server error: %v", err))
		return
	}

	s.logger.Info("upload processed",
		zap.String("filename", filename),
		zap.String("task", string(task)),
		zap.String("language", resp.Language),
		zap.Int("segments", len(resp.Segments)),
		zap.Duration("elapsed", time.Since(started)))

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) process(ctx context.Context, upload io.Reader, filename, language string, task whisper.Task) (*TranscriptResponse, error) {
	tempDir, err := os.MkdirTemp(s.tempRoot, "captiond-")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	// Cleanup is best-effort and runs on every exit path.
	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	videoPath := filepath.Join(tempDir, filename)
	if err := persistUpload(upload, videoPath); err != nil {
		return nil, err
	}

	wavPath := filepath.Join(tempDir, "audio.wav")
	if err := s.extractor.Extract(ctx, videoPath, wavPath); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}

	// Transliteration targets Hindi speech; the caller-supplied hint is
	// overridden so the engine transcribes in Devanagari first.
	if task == whisper.TaskTransliterate {
		language = "hi"
	}

	result, err := s.engine.Transcribe(ctx, whisper.Request{
		AudioPath: wavPath,
		Language:  language,
		Task:      task,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	segments := make([]Segment, 0, len(result.Segments))
	for i, seg := range result.Segments {
		segments = append(segments, Segment{
			Index: i + 1,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	if task == whisper.TaskTransliterate {
		for i := range segments {
			segments[i].Text = s.transliterator.Romanize(segments[i].Text)
		}
	}

	duration, err := audio.Duration(wavPath)
	if err != nil {
		// Match the contract of the duration reader: an unreadable WAV
		// yields 0.0 rather than failing the request.
		s.logger.Warn("failed to read audio duration", zap.String("path", wavPath), zap.Error(err))
		duration = 0
	}

	return &TranscriptResponse{
		Language:        result.Language,
		DurationSeconds: duration,
		Segments:        segments,
	}, nil
}

func persistUpload(upload io.Reader, destination string) error {
	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("persist upload: %w", err)
	}

	if _, err := io.Copy(out, upload); err != nil {
		_ = out.Close()
		return fmt.Errorf("write upload: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

func hasSupportedExtension(filename string) bool {
	lowered := strings.ToLower(filename)
	for _, ext := range supportedExtensions {
		if strings.HasSuffix(lowered, ext) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
