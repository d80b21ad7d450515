package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablebook"

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by type.",
		},
		[]string{"type"},
	)

	reservationRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_rejected_total",
			Help:      "Count of reservation attempts refused by reason.",
		},
		[]string{"reason"},
	)

	statusChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_status_changed_total",
			Help:      "Count of reservation status changes by target status.",
		},
		[]string{"status"},
	)

	checkIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkin_total",
			Help:      "Count of check-in verifications by outcome.",
		},
		[]string{"outcome"},
	)

	closureToggled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_closure_toggled_total",
			Help:      "Count of slot closure toggles by action.",
		},
		[]string{"action"},
	)

	noShowMarked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_show_marked_total",
			Help:      "Count of reservations marked as no-show by the sweeper.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of outbound notifications by channel and result.",
		},
		[]string{"channel", "result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationCreated,
			reservationRejected,
			statusChanged,
			checkIn,
			closureToggled,
			noShowMarked,
			httpRequests,
			notificationsSent,
		)
	})
}

func IncReservationCreated(kind string) {
	reservationCreated.WithLabelValues(kind).Inc()
}

func IncReservationRejected(reason string) {
	reservationRejected.WithLabelValues(reason).Inc()
}

func IncStatusChanged(status string) {
	statusChanged.WithLabelValues(status).Inc()
}

func IncCheckIn(outcome string) {
	checkIn.WithLabelValues(outcome).Inc()
}

func IncClosureToggled(action string) {
	closureToggled.WithLabelValues(action).Inc()
}

func AddNoShowMarked(n int) {
	noShowMarked.Add(float64(n))
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncNotification(channel, result string) {
	notificationsSent.WithLabelValues(channel, result).Inc()
}
