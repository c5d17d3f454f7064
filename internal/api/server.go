// Package api serves the workspace over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leapstack-labs/leapmetrics/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the API server.
type Config struct {
	Workspace *workspace.Workspace
	Addr      string
	// CORSOrigins are the browser origins allowed to call the API
	CORSOrigins []string
	// AutoRefine refines and publishes the layer on negative feedback
	AutoRefine bool
	// Watch reloads semantic layers edited on disk
	Watch  bool
	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	ws         *workspace.Workspace
	addr       string
	origins    []string
	autoRefine bool
	watch      bool
	logger     *slog.Logger
}

// NewServer creates a new API server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		ws:         cfg.Workspace,
		addr:       addr,
		origins:    cfg.CORSOrigins,
		autoRefine: cfg.AutoRefine,
		watch:      cfg.Watch,
		logger:     logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
	)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/datasources", func(r chi.Router) {
			r.Get("/", s.listDataSources)
			r.Post("/", s.createDataSource)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getDataSource)
				r.Delete("/", s.deleteDataSource)
				r.Post("/deploy", s.deploy)
				r.Get("/layer", s.getLayer)
				r.Post("/layer/accept", s.acceptLayer)
				r.Post("/layer/reject", s.rejectLayer)
				r.Post("/layer/copy", s.copyLayer)
				r.Post("/refine", s.refine)
				r.Get("/chats", s.listChats)
				r.Post("/chats", s.createChat)
			})
		})
		r.Route("/chats/{id}", func(r chi.Router) {
			r.Get("/messages", s.chatMessages)
			r.Post("/prompt", s.prompt)
		})
		r.Post("/responses/{id}/feedback", s.feedback)
	})
	return r
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			return s.ws.Watch(egctx)
		})
	}

	eg.Go(func() error {
		s.logger.Info("starting API server", slog.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
