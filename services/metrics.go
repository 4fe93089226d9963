package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the sync engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	Saves            *prometheus.CounterVec
	SaveAttempts     prometheus.Counter
	SaveDuration     prometheus.Histogram
	Loads            *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	DefaultFallbacks *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menu_saves_total",
				Help: "Menu saves by result code (ok on success)",
			},
			[]string{"result"},
		),
		SaveAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "menu_save_attempts_total",
				Help: "Save attempts including retries",
			},
		),
		SaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "menu_save_duration_seconds",
				Help:    "Duration of one save attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
		),
		Loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menu_loads_total",
				Help: "Menu loads by result code (ok on success)",
			},
			[]string{"result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menu_change_notifications_total",
				Help: "Remote change notifications by action taken",
			},
			[]string{"action"},
		),
		DefaultFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menu_default_fallbacks_total",
				Help: "Entities replaced by built-in defaults because the store had no rows",
			},
			[]string{"entity"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "menu_store_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
	m.Registry.MustRegister(m.Saves, m.SaveAttempts, m.SaveDuration, m.Loads,
		m.Notifications, m.DefaultFallbacks, m.BreakerState)
	return m
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := ErrorCode(err); code != "" {
		return code
	}
	return "error"
}

func (m *Metrics) observeSave(err error, seconds float64) {
	if m == nil {
		return
	}
	m.SaveAttempts.Inc()
	m.SaveDuration.Observe(seconds)
	m.Saves.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeLoad(err error) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeNotification(action string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(action).Inc()
}

func (m *Metrics) observeFallback(entity string) {
	if m == nil {
		return
	}
	m.DefaultFallbacks.WithLabelValues(entity).Inc()
}

func (m *Metrics) setBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}
