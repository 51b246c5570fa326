package healthcheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const pingTimeout = 5 * time.Second

// Pinger is implemented by registry stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor tracks whether the registry answers. It starts out healthy so
// that a process serving before the first tick is not reported down.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
	healthy  atomic.Bool
	lastErr  atomic.Value
}

func NewMonitor(pinger Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	m := &Monitor{
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
	m.healthy.Store(true)
	m.lastErr.Store("")
	return m
}

// Run checks the registry every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health check stopped")
			return

		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings the registry once and reports whether it answered.
func (m *Monitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := m.pinger.Ping(pingCtx)
	healthy := err == nil
	if err != nil {
		m.lastErr.Store(err.Error())
	} else {
		m.lastErr.Store("")
	}

	if changed := m.healthy.Swap(healthy) != healthy; changed {
		if healthy {
			m.logger.Info("Registry is back up")
		} else {
			m.logger.Warn("Registry is down", slog.Any("err", err))
		}
	}

	return healthy
}

func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

type status struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Handler answers 200 while the registry is reachable and 503 otherwise.
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := status{Healthy: m.Healthy(), Error: m.lastErr.Load().(string)}

		w.Header().Set("Content-Type", "application/json")
		if !s.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(s); err != nil {
			m.logger.Error("Failed to encode health status", slog.Any("err", err))
		}
	}
}
