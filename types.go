package kvsync

import (
	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/observe"
)

// Logger is a lightweight structured logger interface.
type Logger = observe.Logger

// Field holds a structured logging field.
type Field = observe.Field

// Metrics records counters and gauges.
type Metrics = observe.Metrics

// Label is a simple name/value pair for metrics.
type Label = observe.Label

// ContextIDProvider names the execution context a backend handle writes as.
type ContextIDProvider = backend.ContextIDProvider

// NopLogger returns a no-op logger implementation.
func NopLogger() Logger { return observe.NopLogger() }

// NopMetrics returns a no-op metrics recorder.
func NopMetrics() Metrics { return observe.NopMetrics() }
