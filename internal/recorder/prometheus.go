package recorder

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records checkpoint writes as Prometheus metrics.
type Prometheus struct {
	recorded prometheus.Counter
	size     *prometheus.HistogramVec
}

// NewPrometheus creates the recorder and registers its collectors with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		// recorded counts checkpoint writes.
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowstore",
			Subsystem: "checkpoint",
			Name:      "recorded_total",
			Help:      "Total checkpoints written",
		}),

		// size measures serialized buffer sizes.
		// Labels: part (checkpoint_state, flow_state)
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowstore",
			Subsystem: "checkpoint",
			Name:      "size_bytes",
			Help:      "Size of serialized checkpoint buffers in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"part"}),
	}

	for _, c := range []prometheus.Collector{p.recorded, p.size} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register checkpoint metrics: %w", err)
		}
	}
	return p, nil
}

// Record observes one checkpoint write.
func (p *Prometheus) Record(checkpointState, flowState []byte) {
	p.recorded.Inc()
	p.size.WithLabelValues(partCheckpointState).Observe(float64(len(checkpointState)))
	p.size.WithLabelValues(partFlowState).Observe(float64(len(flowState)))
}
