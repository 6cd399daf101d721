// Package metrics holds the domain counters shared by the services. HTTP
// metrics live in pkg/middleware.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SequenceAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequence_allocations_total",
			Help: "Sequence values issued, by sequence name and result",
		},
		[]string{"sequence", "result"},
	)

	LockoutBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockout_blocks_total",
			Help: "Accounts moved into the blocked state",
		},
	)

	LockoutRemoteDisableFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockout_remote_disable_failures_total",
			Help: "Remote account disable calls that failed after a local block",
		},
	)

	SignalementTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalement_transitions_total",
			Help: "Status transitions observed by the live watcher",
		},
		[]string{"from", "to"},
	)

	NotificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Status alerts handed to the scheduler, by result",
		},
		[]string{"result"},
	)

	registerOnce sync.Once
)

// Register adds the domain collectors to the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SequenceAllocations,
			LockoutBlocks,
			LockoutRemoteDisableFailures,
			SignalementTransitions,
			NotificationsDispatched,
		)
	})
}
