// Package metrics holds the Prometheus instruments for the card pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CardEvents counts card lifecycle events seen by the server, by type.
	CardEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuscard_card_events_total",
		Help: "Card events received from the bridge, by event type.",
	}, []string{"type"})

	// AttendanceSwipes counts swipe outcomes across all sessions.
	AttendanceSwipes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuscard_attendance_swipes_total",
		Help: "Attendance swipe outcomes.",
	}, []string{"outcome"})

	// PaymentUpdates counts checkout transitions by resulting state.
	PaymentUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuscard_payment_updates_total",
		Help: "Checkout state transitions by resulting state.",
	}, []string{"state"})

	// ProvisionResults counts write-then-lock outcomes.
	ProvisionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuscard_provision_results_total",
		Help: "Card provisioning outcomes reported by the bridge.",
	}, []string{"status"})
)
