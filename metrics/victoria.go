// Package metrics adapts observe.Metrics to concrete metrics libraries.
package metrics

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/suyash-sneo/kvsync/observe"
)

// Victoria records into a VictoriaMetrics set. Gauges are callback gauges
// reading the last value set.
type Victoria struct {
	set    *vm.Set
	mu     sync.Mutex
	gauges map[string]*atomic.Uint64
}

// NewVictoria wraps set. A nil set gets a fresh one.
func NewVictoria(set *vm.Set) *Victoria {
	if set == nil {
		set = vm.NewSet()
	}
	return &Victoria{set: set, gauges: map[string]*atomic.Uint64{}}
}

// Set returns the underlying set, e.g. for WritePrometheus.
func (v *Victoria) Set() *vm.Set {
	return v.set
}

func (v *Victoria) IncCounter(name string, value float64, labels ...observe.Label) {
	v.set.GetOrCreateFloatCounter(metricName(name, labels)).Add(value)
}

func (v *Victoria) SetGauge(name string, value float64, labels ...observe.Label) {
	full := metricName(name, labels)
	v.mu.Lock()
	bits, ok := v.gauges[full]
	if !ok {
		bits = &atomic.Uint64{}
		v.gauges[full] = bits
		v.set.GetOrCreateGauge(full, func() float64 {
			return math.Float64frombits(bits.Load())
		})
	}
	v.mu.Unlock()
	bits.Store(math.Float64bits(value))
}

func (v *Victoria) ObserveHistogram(name string, value float64, labels ...observe.Label) {
	v.set.GetOrCreateHistogram(metricName(name, labels)).Update(value)
}

// metricName renders name{a="1",b="2"}.
func metricName(name string, labels []observe.Label) string {
	if len(labels) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(l.Value))
	}
	b.WriteByte('}')
	return b.String()
}
