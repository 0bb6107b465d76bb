// Package observe holds the logging and metrics surfaces shared by every kvsync package.
package observe

// Logger is a lightweight structured logger interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field holds a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// F is shorthand for building a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Metrics records counters and gauges.
type Metrics interface {
	IncCounter(name string, value float64, labels ...Label)
	SetGauge(name string, value float64, labels ...Label)
	ObserveHistogram(name string, value float64, labels ...Label)
}

// Label is a simple name/value pair for metrics.
type Label struct {
	Name  string
	Value string
}

type nopLogger struct{}

// NopLogger returns a no-op logger implementation.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

type nopMetrics struct{}

// NopMetrics returns a no-op metrics recorder.
func NopMetrics() Metrics { return nopMetrics{} }

func (nopMetrics) IncCounter(string, float64, ...Label)       {}
func (nopMetrics) SetGauge(string, float64, ...Label)         {}
func (nopMetrics) ObserveHistogram(string, float64, ...Label) {}

// Metric names emitted by the kvsync packages.
const (
	MetricCacheHits         = "kvsync_cache_hits_total"
	MetricCacheMisses       = "kvsync_cache_misses_total"
	MetricDecodeErrors      = "kvsync_decode_errors_total"
	MetricWriteErrors       = "kvsync_write_errors_total"
	MetricWrites            = "kvsync_writes_total"
	MetricNotifications     = "kvsync_notifications_total"
	MetricBatchSize         = "kvsync_batch_size"
	MetricSubscriptions     = "kvsync_subscriptions"
	MetricBridgeEvents      = "kvsync_bridge_events_total"
	MetricBridgeReconnects  = "kvsync_bridge_reconnects_total"
	MetricHydrationRerender = "kvsync_hydration_rerenders_total"
)
