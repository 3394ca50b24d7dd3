// Package server exposes the pipeline and the note source over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
)

// Processor runs the pipeline for one user and waits for the result.
type Processor interface {
	Process(ctx context.Context, userID, timeZone string) (*model.PipelineResult, error)
}

// Submitter starts a pipeline run without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, userID, timeZone string) bool
}

// NoteWriter is the writer side of the daily-note source.
type NoteWriter interface {
	AppendNote(ctx context.Context, userID, content string, at time.Time, loc *time.Location) (string, error)
	ListUnprocessedDays(ctx context.Context, userID string, lookbackDays int, loc *time.Location) ([]model.DailyNote, error)
}

// Config holds listener and CORS settings.
type Config struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Debug          bool     `yaml:"debug"`
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Processor    Processor
	Submitter    Submitter
	Notes        NoteWriter
	Auth         Authenticator
	Gatherer     prometheus.Gatherer
	LookbackDays int
	Now          func() time.Time
}

// Server is the HTTP front of the service.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LookbackDays <= 0 {
		deps.LookbackDays = 7
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg, deps: deps, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", usernameHeader}
		s.engine.Use(cors.New(corsConfig))
	}

	s.engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.Use(requireAuth(deps.Auth))
	api.POST("/ai/process-daily-notes", s.processDailyNotes)
	api.POST("/notes", s.appendNote)

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Process requests may run for the whole pipeline budget.
		WriteTimeout: 90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "http server failed", goerr.V("addr", s.cfg.Addr))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down http server")
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := logging.From(c.Request.Context()).With("request_id", ulid.Make().String())
		c.Request = c.Request.WithContext(logging.With(c.Request.Context(), logger))

		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
