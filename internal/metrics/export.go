package metrics

import (
	"time"
)

// Global functions for dot-import usage

// MetricStart begins timing an operation
func MetricStart(topic, function string) string {
	return GetInstance().StartTiming(topic, function)
}

// MetricEnd completes timing an operation
func MetricEnd(key string) {
	GetInstance().EndTiming(key)
}

// MetricDuration records a duration directly
func MetricDuration(topic, function string, duration time.Duration) {
	GetInstance().RecordDuration(topic, function, duration)
}

// MetricInc increments a counter by 1
func MetricInc(topic, function string) {
	GetInstance().AddCounter(topic, function, 1)
}

// MetricAdd adds a value to a counter
func MetricAdd(topic, function string, delta int64) {
	GetInstance().AddCounter(topic, function, delta)
}

// MetricSuccess records a successful operation
func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFail records a failed operation without reason
func MetricFail(topic, operation string) {
	GetInstance().RecordFailure(topic, operation, "")
}

// MetricFailWithReason records a failed operation with a specific reason
func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}
