// Package metrics exposes the process call statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/videoboard/internal/util"
)

const namespace = "videoboard"

// NewRegistry returns a registry reading util.Stats on every scrape, plus the
// Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string, load func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(load()) })
	}

	s := util.Stats
	reg.MustRegister(
		counter("sessions_opened_total", "Sessions created.", s.SessionsOpened.Load),
		counter("sessions_closed_total", "Sessions torn down.", s.SessionsClosed.Load),
		counter("signals_sent_total", "Signaling messages pushed to the relay.", s.SignalsSent.Load),
		counter("signals_received_total", "Signaling messages handed to a negotiator.", s.SignalsRecv.Load),
		counter("dropped_stale_total", "Inbox records older than the staleness window.", s.DroppedStale.Load),
		counter("dropped_duplicate_total", "Inbox records already delivered.", s.DroppedDup.Load),
		counter("dropped_unbound_total", "Signals not matching the active session.", s.DroppedBind.Load),
		counter("collisions_total", "Offer collisions observed.", s.Collisions.Load),
		counter("heartbeats_total", "Keepalive pings received.", s.Heartbeats.Load),
		counter("media_bytes_total", "Bytes read from remote tracks.", s.MediaBytes.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open.",
		}, func() float64 { return float64(s.ActiveSessions()) }),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(NewRegistry()))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("Metrics available at http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
