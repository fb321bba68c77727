// Package server exposes the captiond HTTP surface: a liveness probe and
// the video upload endpoint that drives the caption pipeline.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/opencaptions/captiond/internal/translit"
	"github.com/opencaptions/captiond/internal/whisper"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout bounds reading the entire request, including
	// the uploaded video body.
	defaultReadTimeout = 5 * time.Minute

	// defaultWriteTimeout bounds the response write. Inference on long
	// uploads happens before the first byte of the response, so this
	// covers extraction plus transcription.
	defaultWriteTimeout = 15 * time.Minute

	// defaultIdleTimeout is how long keep-alive connections are held.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxUploadBytes caps the uploaded video size (512 MB).
	defaultMaxUploadBytes int64 = 512 << 20

	// multipartMemoryBytes is how much of the multipart form is held in
	// memory before spilling to disk.
	multipartMemoryBytes int64 = 32 << 20
)

// Extractor produces a mono 16 kHz WAV file from a video container.
type Extractor interface {
	Extract(ctx context.Context, videoPath, wavPath string) error
}

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address. Default ":8000".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithAllowedOrigins sets the CORS origin allow-list. "*" allows any
// origin. Default: allow all.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithMaxUploadBytes caps the accepted request body size. Default 512 MB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithTempRoot places per-request scratch directories under dir instead
// of the system temp directory.
func WithTempRoot(dir string) Option {
	return func(s *Server) { s.tempRoot = dir }
}

// WithReadTimeout sets the maximum duration for reading the request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout sets the maximum duration before timing out response
// writes, which bounds end-to-end request processing.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// Server handles caption requests. The speech engine is process-wide
// state initialized once before the server starts and never reassigned;
// a nil engine means model loading failed and /upload answers 503.
type Server struct {
	engine         whisper.Engine
	extractor      Extractor
	transliterator *translit.Transliterator
	logger         *zap.Logger

	addr           string
	allowedOrigins []string
	maxUploadBytes int64
	tempRoot       string
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	httpSrv   *http.Server
	httpSrvMu sync.Mutex
}

// New creates a caption server. engine may be nil when model
// initialization failed at startup; transliterator may be nil to disable
// Latin-script rendering.
func New(engine whisper.Engine, extractor Extractor, transliterator *translit.Transliterator, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		engine:         engine,
		extractor:      extractor,
		transliterator: transliterator,
		logger:         logger,
		addr:           ":8000",
		allowedOrigins: []string{"*"},
		maxUploadBytes: defaultMaxUploadBytes,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseAllowedOrigins splits a comma-separated origin list as supplied
// via the CORS_ALLOW_ORIGINS environment variable. Empty input means
// unrestricted.
func ParseAllowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Handler returns the HTTP handler with CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /upload", s.handleUpload)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// handleHealthz reports process liveness. It deliberately does not
// reflect model availability: a process with a failed model load still
// answers ok here and 503 on /upload.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	return s.serve(func(srv *http.Server) error {
		srv.Addr = s.addr
		return srv.ListenAndServe()
	})
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(func(srv *http.Server) error {
		return srv.Serve(ln)
	})
}

func (s *Server) serve(run func(*http.Server) error) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	err := run(srv)
	if err == http.ErrServerClosed {
		return nil
	}
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
