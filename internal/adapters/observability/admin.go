package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisSpark/internal/app/session"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

type BufferSource interface {
	Metrics(ctx context.Context) (ports.BufferMetrics, error)
}

type SessionSource interface {
	Snapshot() session.Stats
}

// AdminDeps feeds the read-only admin surface. Nil members disable their route.
type AdminDeps struct {
	Gatherer prometheus.Gatherer
	Buffer   BufferSource
	Session  SessionSource
	Level    *zap.AtomicLevel
}

type bufferView struct {
	ports.BufferMetrics
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
}

// NewAdminHandler serves /healthz, /metrics, /api/buffer/metrics,
// /api/session and /api/log/level.
func NewAdminHandler(d AdminDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if d.Buffer != nil {
		mux.HandleFunc("GET /api/buffer/metrics", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			m, err := d.Buffer.Metrics(ctx)
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, bufferView{BufferMetrics: m, OldestAgeSeconds: m.OldestAge(time.Now()).Seconds()})
		})
	}
	if d.Session != nil {
		mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, d.Session.Snapshot())
		})
	}
	if d.Level != nil {
		// zap's level handler speaks GET and PUT with {"level":"debug"}.
		mux.Handle("/api/log/level", d.Level)
	}
	return mux
}

// AdminServer runs the admin handler until its context ends.
type AdminServer struct {
	srv *http.Server
	obs ports.Observability
}

func NewAdminServer(addr string, h http.Handler, obs ports.Observability) *AdminServer {
	return &AdminServer{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		obs: obs,
	}
}

// Run blocks until ctx is done, then shuts the server down.
func (s *AdminServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.obs.LogInfo("admin_server_listening", ports.Field{Key: "addr", Value: s.srv.Addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
