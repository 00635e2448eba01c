package presign

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	opDirect   = "direct"
	opInitiate = "initiate"
	opPart     = "part"
	opComplete = "complete"
)

// Metrics counts handled requests per operation and outcome.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the service counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uploadkit",
			Subsystem: "presign",
			Name:      "requests_total",
			Help:      "Upload URL requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
	reg.MustRegister(m.requests)
	return m
}

func (m *Metrics) observe(operation, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
}
