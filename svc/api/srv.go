package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"pastelink/cfg"
	"pastelink/pkg/domain"
	"pastelink/svc/lim"
	"pastelink/svc/util"
)

// PasteStore is the engine surface the HTTP layer drives.
type PasteStore interface {
	Create(ctx context.Context, params domain.CreateParams, now time.Time) (*domain.Created, error)
	Consume(ctx context.Context, id string, now time.Time) (*domain.Record, error)
	Peek(ctx context.Context, id string, now time.Time) (*domain.Record, error)
	Ping(ctx context.Context) error
	URL(id string) string
}

type Server struct {
	router     *chi.Mux
	paste      PasteStore
	cfg        *cfg.Cfg
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p PasteStore, l *lim.Limiter) *Server {
	s := &Server{paste: p, cfg: c}
	r := chi.NewRouter()
	mw := NewMw(l, c)
	r.Use(mw.Recoverer)
	r.Get("/health", s.Health)
	r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.Metrics)
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.Clock)

		hdl := &Hdl{paste: p, cfg: c}
		r.With(mw.JSONContentType).Get("/healthz", s.Healthz)
		r.With(mw.JSONContentType, mw.RateLimit("create")).Post("/pastes", hdl.CreatePaste)
		r.With(mw.JSONContentType, mw.RateLimit("view")).Get("/pastes/{id}", hdl.GetPaste)
		r.With(mw.JSONContentType, middleware.NoCache, mw.RateLimit("stats")).Get("/pastes/{id}/stats", hdl.GetStats)
		r.With(middleware.NoCache, mw.RateLimit("stats")).Get("/pastes/{id}/qr", hdl.GetQR)
	})
	s.router = r
	s.httpServer = &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    256 * 1024,
	}
	return s
}
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
