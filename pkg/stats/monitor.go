// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stats

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/livekit/mscontrol/pkg/config"
)

// Durations are in seconds
var (
	// durBucketsOp lists histogram buckets for media acquisition, from create to ready.
	durBucketsOp = []float64{
		0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
	}
	// durBucketsLong lists histogram buckets for whole media sessions.
	durBucketsLong = []float64{
		1, 10, 60, 10 * 60, 30 * 60, 3600, 6 * 3600, 12 * 3600, 24 * 3600,
	}
)

// Outcome is the final report of a media session.
type Outcome string

const (
	OutcomeEnded  Outcome = "ended"
	OutcomeFailed Outcome = "failed"
)

type Monitor struct {
	nodeID    string
	maxActive int

	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	transitions     *prometheus.CounterVec
	illegalEvents   *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	durReady        prometheus.Histogram
	durSession      *prometheus.HistogramVec

	gwRequests      *prometheus.CounterVec
	gwReplies       *prometheus.CounterVec
	gwNotifications *prometheus.CounterVec
	gwOrphans       *prometheus.CounterVec
	gwDropped       prometheus.Counter

	nodeAvailable prometheus.GaugeFunc

	active   atomic.Int64
	metrics  []prometheus.Collector
	started  core.Fuse
	shutdown core.Fuse
}

func NewMonitor(conf *config.Config) *Monitor {
	return &Monitor{
		nodeID:    conf.NodeID,
		maxActive: conf.MaxActiveCalls,
	}
}

func mustRegister[T prometheus.Collector](m *Monitor, c T) T {
	err := prometheus.Register(c)
	if err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		} else {
			panic(err)
		}
	}
	m.metrics = append(m.metrics, c)
	return c
}

func (m *Monitor) Start() error {
	prometheus.Unregister(collectors.NewGoCollector())
	mustRegister(m, collectors.NewGoCollector(collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsAll)))

	labels := prometheus.Labels{"node_id": m.nodeID}

	m.sessionsStarted = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "sessions_started",
		Help:        "Number of media sessions created",
		ConstLabels: labels,
	}))

	m.sessionsEnded = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "sessions_ended",
		Help:        "Number of media sessions that reached a terminal state",
		ConstLabels: labels,
	}, []string{"outcome"}))

	m.sessionsActive = mustRegister(m, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "sessions_active",
		Help:        "Number of media session controllers currently running",
		ConstLabels: labels,
	}))

	m.transitions = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "transitions",
		Help:        "Number of committed state transitions",
		ConstLabels: labels,
	}, []string{"from", "to"}))

	m.illegalEvents = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "illegal_events",
		Help:        "Number of events rejected in the current state",
		ConstLabels: labels,
	}, []string{"state", "event"}))

	m.timeouts = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "request_timeouts",
		Help:        "Number of gateway requests that were not answered in time",
		ConstLabels: labels,
	}, []string{"state"}))

	m.durReady = mustRegister(m, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "dur_ready_sec",
		Help:        "Media acquisition duration (from create to ready or pending)",
		ConstLabels: labels,
		Buckets:     durBucketsOp,
	}))

	m.durSession = mustRegister(m, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "dur_session_sec",
		Help:        "Media session duration (from create to terminal state)",
		ConstLabels: labels,
		Buckets:     durBucketsLong,
	}, []string{"outcome"}))

	m.gwRequests = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mgcp",
		Name:        "requests",
		Help:        "Number of requests sent to the media gateway",
		ConstLabels: labels,
	}, []string{"verb"}))

	m.gwReplies = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mgcp",
		Name:        "replies",
		Help:        "Number of replies received from the media gateway",
		ConstLabels: labels,
	}, []string{"type", "result"}))

	m.gwNotifications = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mgcp",
		Name:        "notifications",
		Help:        "Number of state notifications received from the media gateway",
		ConstLabels: labels,
	}, []string{"type"}))

	m.gwOrphans = mustRegister(m, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mgcp",
		Name:        "orphan_releases",
		Help:        "Number of gateway resources released because nobody wanted them",
		ConstLabels: labels,
	}, []string{"verb"}))

	m.gwDropped = mustRegister(m, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "livekit",
		Subsystem:   "mgcp",
		Name:        "dropped_messages",
		Help:        "Number of gateway messages without a live recipient",
		ConstLabels: labels,
	}))

	m.nodeAvailable = mustRegister(m, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "livekit",
		Subsystem:   "mscontrol",
		Name:        "available",
		Help:        "Whether node can accept new media sessions",
		ConstLabels: labels,
	}, func() float64 {
		c := m.CanAccept()
		if c {
			return 1
		}
		return 0
	}))

	m.started.Break()

	return nil
}

func (m *Monitor) Shutdown() {
	m.shutdown.Break()
}

func (m *Monitor) Stop() {
	for _, c := range m.metrics {
		prometheus.Unregister(c)
	}
	m.metrics = nil
}

// CanAccept reports whether a new media session may be admitted.
func (m *Monitor) CanAccept() bool {
	if m == nil {
		return true
	}
	if m.shutdown.IsBroken() {
		return false
	}
	if m.maxActive > 0 && m.active.Load() >= int64(m.maxActive) {
		return false
	}
	return true
}

func (m *Monitor) ready() bool {
	return m != nil && m.started.IsBroken()
}

func (m *Monitor) Active() int {
	if m == nil {
		return 0
	}
	return int(m.active.Load())
}

// SessionStart records a new controller. The returned function records its end.
func (m *Monitor) SessionStart() func(o Outcome) {
	if m == nil {
		return func(Outcome) {}
	}
	m.active.Add(1)
	start := time.Now()
	if m.ready() {
		m.sessionsStarted.Inc()
		m.sessionsActive.Inc()
	}
	var done atomic.Bool
	return func(o Outcome) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		m.active.Add(-1)
		if m.ready() {
			m.sessionsActive.Dec()
			m.sessionsEnded.WithLabelValues(string(o)).Inc()
			m.durSession.WithLabelValues(string(o)).Observe(time.Since(start).Seconds())
		}
	}
}

func (m *Monitor) MediaReady(d time.Duration) {
	if m.ready() {
		m.durReady.Observe(d.Seconds())
	}
}

func (m *Monitor) Transition(from, to string) {
	if m.ready() {
		m.transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Monitor) IllegalEvent(state, event string) {
	if m.ready() {
		m.illegalEvents.WithLabelValues(state, event).Inc()
	}
}

func (m *Monitor) RequestTimeout(state string) {
	if m.ready() {
		m.timeouts.WithLabelValues(state).Inc()
	}
}

func (m *Monitor) GatewayRequest(verb string) {
	if m.ready() {
		m.gwRequests.WithLabelValues(verb).Inc()
	}
}

func (m *Monitor) GatewayReply(typ string, failed bool) {
	if m.ready() {
		result := "ok"
		if failed {
			result = "error"
		}
		m.gwReplies.WithLabelValues(typ, result).Inc()
	}
}

func (m *Monitor) GatewayNotification(typ string) {
	if m.ready() {
		m.gwNotifications.WithLabelValues(typ).Inc()
	}
}

func (m *Monitor) GatewayOrphan(verb string) {
	if m.ready() {
		m.gwOrphans.WithLabelValues(verb).Inc()
	}
}

func (m *Monitor) GatewayDropped() {
	if m.ready() {
		m.gwDropped.Inc()
	}
}
