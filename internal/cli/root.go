package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencaptions/captiond/internal/download"
	"github.com/opencaptions/captiond/internal/logging"
	"github.com/opencaptions/captiond/internal/media"
	"github.com/opencaptions/captiond/internal/platform"
	"github.com/opencaptions/captiond/internal/server"
	"github.com/opencaptions/captiond/internal/translit"
	"github.com/opencaptions/captiond/internal/version"
	"github.com/opencaptions/captiond/internal/whisper"
)

const shutdownGrace = 10 * time.Second

type appState struct {
	verbose      bool
	jsonLogs     bool
	noProgress   bool
	addr         string
	model        string
	modelDir     string
	autoDownload bool
	noVAD        bool
	maxUploadMB  int64

	logger *zap.Logger

	buildEngineFn func(ctx context.Context) (whisper.Engine, error)
	serveFn       func(ctx context.Context, srv *server.Server) error
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		addr:         ":8000",
		model:        whisper.DefaultModel,
		autoDownload: true,
		maxUploadMB:  512,
	}
	app.buildEngineFn = app.buildEngine
	app.serveFn = app.serve

	cmd := &cobra.Command{
		Use:           "captiond",
		Short:         "Serve video caption generation over HTTP with a local whisper engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	cmd.Flags().StringVar(&app.addr, "addr", app.addr, "HTTP listen address")
	cmd.Flags().BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing model assets")
	cmd.Flags().BoolVar(&app.noVAD, "no-vad", app.noVAD, "Disable voice-activity filtering in the speech engine")
	cmd.Flags().Int64Var(&app.maxUploadMB, "max-upload-mb", app.maxUploadMB, "Maximum accepted upload size in megabytes")

	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.Flags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.model, "model", app.model, "Model name or model file path")
	cmd.Flags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where model assets are stored")
}

// runServe brings up the HTTP server. A failed engine build is
// non-fatal: the server starts anyway and /upload answers 503 until the
// process is restarted with a working model.
func (a *appState) runServe(ctx context.Context) error {
	buildEngineFn := a.buildEngineFn
	if buildEngineFn == nil {
		buildEngineFn = a.buildEngine
	}

	serveFn := a.serveFn
	if serveFn == nil {
		serveFn = a.serve
	}

	var engine whisper.Engine
	if built, err := buildEngineFn(ctx); err != nil {
		a.log().Warn("speech engine unavailable; /upload will answer 503", zap.Error(err))
	} else {
		engine = built
	}

	extractor := media.NewFFmpeg(a.log())
	if !extractor.Available() {
		a.log().Warn("ffmpeg not found; audio extraction will fail until it is installed or CAPTIOND_FFMPEG_PATH is set")
	}

	origins := server.ParseAllowedOrigins(os.Getenv("CORS_ALLOW_ORIGINS"))

	srv := server.New(engine, extractor, translit.New(a.log()), a.log(),
		server.WithAddr(a.addr),
		server.WithAllowedOrigins(origins),
		server.WithMaxUploadBytes(a.maxUploadMB<<20),
	)

	a.log().Info("starting server",
		zap.String("addr", a.addr),
		zap.Strings("cors_origins", origins),
		zap.Bool("engine_loaded", engine != nil))

	return serveFn(ctx, srv)
}

func (a *appState) serve(ctx context.Context, srv *server.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// buildEngine resolves model assets (downloading them when allowed) and
// constructs the whisper subprocess engine.
func (a *appState) buildEngine(ctx context.Context) (whisper.Engine, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return nil, err
	}

	resolved, err := whisper.ResolveModel(a.model, modelDir)
	if err != nil {
		return nil, err
	}

	if resolved.NeedsDownload {
		if !a.autoDownload {
			return nil, fmt.Errorf("model %q is missing at %s; run `captiond setup --model %s` or use --auto-download=true", resolved.Name, resolved.Path, resolved.Name)
		}

		a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
		if err := download.Fetch(ctx, download.Options{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
			ChecksumURL:    resolved.SHA256URL,
			NoProgress:     a.noProgress,
			Logger:         a.log(),
		}); err != nil {
			return nil, fmt.Errorf("download model %q: %w", resolved.Name, err)
		}
	}

	vadModelPath := ""
	if !a.noVAD {
		vadModelPath, err = a.ensureVADModel(ctx, modelDir)
		if err != nil {
			// VAD is an optimization; transcription works without it.
			a.log().Warn("voice-activity model unavailable; continuing without VAD", zap.Error(err))
			vadModelPath = ""
		}
	}

	return whisper.NewCLIEngine(resolved.Path, vadModelPath, a.log())
}

func (a *appState) ensureVADModel(ctx context.Context, modelDir string) (string, error) {
	resolved, err := whisper.ResolveVADModel(modelDir)
	if err != nil {
		return "", err
	}

	if !resolved.NeedsDownload {
		return resolved.Path, nil
	}
	if !a.autoDownload {
		return "", errors.New("vad model is missing and --auto-download is disabled")
	}

	a.log().Info("downloading voice-activity model", zap.String("destination", resolved.Path))
	if err := download.Fetch(ctx, download.Options{
		URL:         resolved.URL,
		Destination: resolved.Path,
		NoProgress:  a.noProgress,
		Logger:      a.log(),
	}); err != nil {
		return "", fmt.Errorf("download vad model: %w", err)
	}

	return resolved.Path, nil
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.modelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}
