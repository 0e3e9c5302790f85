// File: core/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Optional metrics sink. When a control.Metrics set is installed, the
// message, signal and timer paths report into it; otherwise the counters
// are skipped entirely.

package core

import (
	"sync/atomic"

	"github.com/jamesmaino/libcamera-willfork/control"
)

var metricsSink atomic.Pointer[control.Metrics]

// SetMetrics installs the metrics set updated by the object core.
// Passing nil disables metrics reporting.
func SetMetrics(m *control.Metrics) {
	metricsSink.Store(m)
}

func observePosted() {
	if m := metricsSink.Load(); m != nil {
		m.MessagesPosted.Inc()
	}
}

func observeDelivered() {
	if m := metricsSink.Load(); m != nil {
		m.MessagesDelivered.Inc()
	}
}

func observeEmit() {
	if m := metricsSink.Load(); m != nil {
		m.SignalEmits.Inc()
	}
}

func observeTimerFire() {
	if m := metricsSink.Load(); m != nil {
		m.TimerFires.Inc()
	}
}

func observeThreads(delta float64) {
	if m := metricsSink.Load(); m != nil {
		m.ThreadsRunning.Add(delta)
	}
}
