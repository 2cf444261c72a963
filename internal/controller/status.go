// Package controller implements the one-of-N leader election per cluster:
// a lifecycle state machine (Starting/Standby/Primary/Terminating), the
// loneliness check, and graceful takeover scheduling. Grounded on spec
// §4.D and on original_source/'s bot_context status handling, carried
// into Go using the teacher's atomic-status-field idiom from state.go's
// shard bookkeeping.
package controller

import "sync/atomic"

// Status is the instance's lifecycle state.
type Status int32

const (
	StatusStarting Status = iota
	StatusStandby
	StatusPrimary
	StatusTerminating
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusStandby:
		return "standby"
	case StatusPrimary:
		return "primary"
	case StatusTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// MetricsSink is notified on every status transition so the `status{status}`
// gauge family can reset and re-set under the same operation, keeping
// exactly one label at 1. Mirrors cache.MetricsSink's decoupling.
type MetricsSink interface {
	SetStatus(old, new Status)
}

type noopMetricsSink struct{}

func (noopMetricsSink) SetStatus(Status, Status) {}

// statusBox holds the current status behind an atomic int32, matching the
// teacher's use of sync/atomic for shard-level status fields in state.go.
type statusBox struct {
	v int32
}

func (b *statusBox) load() Status {
	return Status(atomic.LoadInt32(&b.v))
}

func (b *statusBox) store(s Status) {
	atomic.StoreInt32(&b.v, int32(s))
}

// compareAndSwap transitions the status iff it is currently `from`.
func (b *statusBox) compareAndSwap(from, to Status) bool {
	return atomic.CompareAndSwapInt32(&b.v, int32(from), int32(to))
}
