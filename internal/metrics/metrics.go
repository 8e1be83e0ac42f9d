// Package metrics provides Prometheus metrics for the agent.
//
// All recording methods are safe to call on a nil *Metrics, which records
// nothing. This keeps metrics optional for every service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "wol_power_agent"

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	registry *prometheus.Registry

	// Listener metrics
	PacketsTotal  *prometheus.CounterVec
	ReceiveErrors prometheus.Counter
	PulsesTotal   *prometheus.CounterVec

	// Supervisor metrics
	ConnectAttempts   *prometheus.CounterVec
	ConnectivityState *prometheus.GaugeVec
	Failures          prometheus.Gauge
	FatalRestarts     prometheus.Counter

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "packets_total",
				Help:      "Datagrams received on the Wake-on-LAN port, by validation result.",
			},
			[]string{"result"},
		),

		ReceiveErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "listener",
				Name:      "receive_errors_total",
				Help:      "Unexpected socket errors while receiving.",
			},
		),

		PulsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "power",
				Name:      "pulses_total",
				Help:      "Power button presses issued for magic packets.",
			},
			[]string{"result"},
		),

		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "connect_attempts_total",
				Help:      "Network connection attempts, by result.",
			},
			[]string{"result"},
		),

		ConnectivityState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "state",
				Help:      "Current connectivity state (1 for the active state).",
			},
			[]string{"state"},
		),

		Failures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "consecutive_failures",
				Help:      "Consecutive failed connection attempts.",
			},
		),

		FatalRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "fatal_restarts_total",
				Help:      "Fatal restarts triggered by persistent connectivity loss.",
			},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifier",
				Name:      "notifications_total",
				Help:      "Event notifications, by sink and result.",
			},
			[]string{"sink", "result"},
		),
	}

	registry.MustRegister(
		m.PacketsTotal,
		m.ReceiveErrors,
		m.PulsesTotal,
		m.ConnectAttempts,
		m.ConnectivityState,
		m.Failures,
		m.FatalRestarts,
		m.NotificationsTotal,
	)

	return m
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// PacketReceived records a datagram and whether it was a valid magic packet.
func (m *Metrics) PacketReceived(valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.PacketsTotal.WithLabelValues("accepted").Inc()
		return
	}
	m.PacketsTotal.WithLabelValues("rejected").Inc()
}

// ReceiveError records an unexpected receive error.
func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.ReceiveErrors.Inc()
}

// PowerPulse records a power button press.
func (m *Metrics) PowerPulse(ok bool) {
	if m == nil {
		return
	}
	m.PulsesTotal.WithLabelValues(result(ok)).Inc()
}

// ConnectAttempt records a connection attempt.
func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result(ok)).Inc()
}

// SetState marks state as the active connectivity state.
func (m *Metrics) SetState(state models.ConnectivityState) {
	if m == nil {
		return
	}
	for _, s := range []models.ConnectivityState{
		models.StateDisconnected,
		models.StateConnecting,
		models.StateConnected,
		models.StateFatalRestartPending,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectivityState.WithLabelValues(s.String()).Set(v)
	}
}

// SetFailures records the consecutive failure count.
func (m *Metrics) SetFailures(n int) {
	if m == nil {
		return
	}
	m.Failures.Set(float64(n))
}

// FatalRestart records a fatal restart.
func (m *Metrics) FatalRestart() {
	if m == nil {
		return
	}
	m.FatalRestarts.Inc()
}

// Notification records an event delivery attempt to sink.
func (m *Metrics) Notification(sink string, ok bool) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(sink, result(ok)).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 10,
		},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
