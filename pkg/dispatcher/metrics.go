package dispatcher

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeOK              = "ok"
	outcomeRemoteError     = "remote_error"
	outcomeChannelClosed   = "channel_closed"
	outcomeSendFailed      = "send_failed"
	outcomeError           = "error"
	outcomeServiceNotFound = "service_not_found"
	outcomeMethodNotFound  = "method_not_found"
)

// Metrics holds dispatcher collectors. One Metrics may be shared by every
// dispatcher of a process; the side label tells host and worker apart.
// A nil *Metrics records nothing.
type Metrics struct {
	callsSent    *prometheus.CounterVec
	callsSettled *prometheus.CounterVec
	callsServed  *prometheus.CounterVec
	pending      *prometheus.GaugeVec
	callDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		callsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dispatch_calls_sent_total", Help: "outgoing calls by side and method"},
			[]string{"side", "method"},
		),
		callsSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dispatch_calls_settled_total", Help: "outgoing calls settled by side and outcome"},
			[]string{"side", "outcome"},
		),
		callsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "dispatch_calls_served_total", Help: "incoming calls handled by side and outcome"},
			[]string{"side", "outcome"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "dispatch_pending_calls", Help: "outgoing calls awaiting a result"},
			[]string{"side"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_call_duration_seconds",
				Help:    "time from send to settlement of outgoing calls",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"side"},
		),
	}

	for _, c := range []prometheus.Collector{m.callsSent, m.callsSettled, m.callsServed, m.pending, m.callDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("dispatcher:metrics - failed to register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) sent(side, method string) {
	if m == nil {
		return
	}
	m.callsSent.WithLabelValues(side, method).Inc()
	m.pending.WithLabelValues(side).Inc()
}

func (m *Metrics) settled(side, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.callsSettled.WithLabelValues(side, outcome).Inc()
	m.pending.WithLabelValues(side).Dec()
	m.callDuration.WithLabelValues(side).Observe(time.Since(started).Seconds())
}

func (m *Metrics) sendFailed(side string) {
	if m == nil {
		return
	}
	m.callsSettled.WithLabelValues(side, outcomeSendFailed).Inc()
}

func (m *Metrics) served(side, outcome string) {
	if m == nil {
		return
	}
	m.callsServed.WithLabelValues(side, outcome).Inc()
}
