package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bamsammich/plotfarm/internal/inventory"
	"github.com/bamsammich/plotfarm/internal/manager"
	"github.com/bamsammich/plotfarm/internal/stats"
)

const shutdownTimeout = 5 * time.Second

// StatusSource reports live scheduler state. *manager.Manager implements it.
type StatusSource interface {
	Active() []manager.TaskStatus
	BusyBuses() []string
	Inventory() inventory.Inventory
}

// Status is the /status response body.
type Status struct {
	Time      time.Time            `json:"time"`
	Buses     []string             `json:"buses"`
	BusyBuses []string             `json:"busy_buses"`
	Active    []manager.TaskStatus `json:"active"`
	Stats     *stats.Snapshot      `json:"stats,omitempty"`
	Refreshed time.Time            `json:"inventory_refreshed_at"`
}

// Server exposes /metrics, /status and /healthz.
type Server struct {
	Addr     string
	Recorder *Recorder
	Source   StatusSource
	Stats    *stats.Collector
	Logger   *slog.Logger
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.Recorder.Registry, promhttp.HandlerOpts{Registry: s.Recorder.Registry}))
	r.Get("/status", s.status)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	inv := s.Source.Inventory()
	resp := Status{
		Time:      time.Now().UTC(),
		Buses:     inv.BusIDs(),
		BusyBuses: s.Source.BusyBuses(),
		Active:    s.Source.Active(),
		Refreshed: inv.RefreshedAt,
	}
	if s.Stats != nil {
		snap := s.Stats.Snapshot()
		resp.Stats = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Run listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status server listening", "addr", ln.Addr().String())
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	log.Debug("status server stopped")
	return nil
}
