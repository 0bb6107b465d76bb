package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suyash-sneo/kvsync/observe"
)

// Prometheus records into a Prometheus registerer. Vectors are created on
// first use; the label names of that first call fix the vector's labels.
type Prometheus struct {
	reg        prometheus.Registerer
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus wraps reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		reg:        reg,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (p *Prometheus) IncCounter(name string, value float64, labels ...observe.Label) {
	names, values := split(labels)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = register(p.reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help(name),
		}, names))
		p.counters[name] = vec
	}
	p.mu.Unlock()
	if c, err := vec.GetMetricWithLabelValues(values...); err == nil {
		c.Add(value)
	}
}

func (p *Prometheus) SetGauge(name string, value float64, labels ...observe.Label) {
	names, values := split(labels)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = register(p.reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help(name),
		}, names))
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	if g, err := vec.GetMetricWithLabelValues(values...); err == nil {
		g.Set(value)
	}
}

func (p *Prometheus) ObserveHistogram(name string, value float64, labels ...observe.Label) {
	names, values := split(labels)
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = register(p.reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help(name),
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}, names))
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	if h, err := vec.GetMetricWithLabelValues(values...); err == nil {
		h.Observe(value)
	}
}

// register returns the collector already registered under the same
// descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func split(labels []observe.Label) ([]string, []string) {
	names := make([]string, len(labels))
	values := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
		values[i] = l.Value
	}
	return names, values
}

func help(name string) string {
	return "kvsync " + strings.ReplaceAll(strings.TrimPrefix(name, "kvsync_"), "_", " ")
}
