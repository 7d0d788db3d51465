// Package server exposes the timewall engine over a local HTTP API: event
// ingress for the browser integration, state and insights reads for the
// overlay and popup, settings and block-list management, and an SSE
// change feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/internal/config"
	"github.com/timewall/timewall/internal/server/sse"
	"github.com/timewall/timewall/internal/store"
	"github.com/timewall/timewall/internal/tracker"
)

// Service is the HTTP face of the daemon.
type Service struct {
	version     string
	config      *config.Config
	store       *store.Store
	tracker     *tracker.Tracker
	broadcaster *sse.Broadcaster
	router      chi.Router
	startTime   time.Time
}

// NewService wires the HTTP service. The broadcaster is shared with the
// Commander so enforcement commands and change notifications ride the
// same feed.
func NewService(version string, cfg *config.Config, st *store.Store, trk *tracker.Tracker, b *sse.Broadcaster) *Service {
	s := &Service{
		version:     version,
		config:      cfg,
		store:       st,
		tracker:     trk,
		broadcaster: b,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	s.setupRoutes()

	// Bridge store change notifications onto the SSE feed so views
	// re-render without polling.
	st.OnChange(func(ev store.ChangeEvent) {
		s.broadcaster.Broadcast(map[string]interface{}{
			"type":      changeEventType(ev),
			"partition": string(ev.Partition),
			"keys":      ev.Keys,
		})
	})
	return s
}

func changeEventType(ev store.ChangeEvent) string {
	if ev.Partition == store.PartitionSettings {
		return "settings-changed"
	}
	for _, k := range ev.Keys {
		if k == "insights" {
			return "insights-updated"
		}
	}
	return "state-changed"
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/events/tab", s.handleTabEvent)
		r.Post("/events/idle", s.handleIdleEvent)

		r.Get("/state", s.handleGetState)
		r.Get("/insights", s.handleGetInsights)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/websites", s.handleListWebsites)
		r.Post("/websites", s.handleAddWebsite)
		r.Put("/websites/{id}", s.handleUpdateWebsite)
		r.Delete("/websites/{id}", s.handleRemoveWebsite)

		r.Get("/events", s.broadcaster.HandleSSE)
		r.Get("/health", s.handleHealth)
	})
}

// Router returns the HTTP handler, exposed for tests.
func (s *Service) Router() http.Handler { return s.router }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.config.ListenAddr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
