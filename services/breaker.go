package services

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// NewStoreBreaker returns the circuit breaker guarding remote menu loads.
// It opens after 3 consecutive failures or when more than 5% of at least
// 20 requests in a minute fail, and probes again after 30s.
func NewStoreBreaker(name string, log zerolog.Logger, m *Metrics) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store breaker state changed")
		m.setBreakerState(name, float64(to))
	}
	return gobreaker.NewCircuitBreaker(st)
}
