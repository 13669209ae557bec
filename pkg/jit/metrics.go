package jit

import (
	"github.com/prometheus/client_golang/prometheus"

	jiterr "tracejit/pkg/errors"
)

// Metrics counts compilations and tracks live code size.
type Metrics struct {
	Compiles  *prometheus.CounterVec
	Holes     prometheus.Counter
	CodeBytes prometheus.Gauge
	Executors prometheus.Gauge
}

// NewMetrics creates the JIT collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracejit",
			Name:      "compiles_total",
			Help:      "Trace compilations by result.",
		}, []string{"result"}),
		Holes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracejit",
			Name:      "holes_patched_total",
			Help:      "Stencil holes patched in successful compilations.",
		}),
		CodeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracejit",
			Name:      "code_bytes",
			Help:      "Bytes of native code attached to executors.",
		}),
		Executors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracejit",
			Name:      "compiled_executors",
			Help:      "Executors with native code attached.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Compiles, m.Holes, m.CodeBytes, m.Executors)
	}
	return m
}

func (m *Metrics) compiled(size, holes int) {
	m.Compiles.WithLabelValues("ok").Inc()
	m.Holes.Add(float64(holes))
	m.CodeBytes.Add(float64(size))
	m.Executors.Inc()
}

func (m *Metrics) failed(err error) {
	result := "error"
	if kind, ok := jiterr.KindOf(err); ok {
		result = kind.String()
	}
	m.Compiles.WithLabelValues(result).Inc()
}

func (m *Metrics) freed(size int) {
	m.CodeBytes.Sub(float64(size))
	m.Executors.Dec()
}
