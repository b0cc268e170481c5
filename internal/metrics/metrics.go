package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the prometheus collectors for the claim workflow. Collectors
// register on the default registry; construct once per process.
type Metrics struct {
	reservationsTotal   prometheus.Counter
	releasesTotal       *prometheus.CounterVec
	assignmentsTotal    prometheus.Counter
	commissionTotal     prometheus.Counter
	paymentsTotal       *prometheus.CounterVec
	cancellationsTotal  *prometheus.CounterVec
	driverDeactivations prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		reservationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subcontracting_reservations_total",
			Help: "Claim locks successfully placed.",
		}),
		releasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subcontracting_lock_releases_total",
			Help: "Claim locks released, by reason (manual, expired).",
		}, []string{"reason"}),
		assignmentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subcontracting_assignments_total",
			Help: "Courses assigned after commission payment.",
		}),
		commissionTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subcontracting_commission_collected_eur_total",
			Help: "Commission collected in euros.",
		}),
		paymentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subcontracting_payments_total",
			Help: "Commission payments, by final status.",
		}, []string{"status"}),
		cancellationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subcontracting_cancellations_total",
			Help: "Course cancellations, by actor and lateness.",
		}, []string{"actor", "late"}),
		driverDeactivations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subcontracting_driver_deactivations_total",
			Help: "Drivers auto-deactivated for repeated late cancellations.",
		}),
	}
}

func (m *Metrics) RecordReservation() {
	m.reservationsTotal.Inc()
}

func (m *Metrics) RecordReleased(reason string) {
	m.releasesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAssignment(amount float64) {
	m.assignmentsTotal.Inc()
	m.commissionTotal.Add(amount)
}

func (m *Metrics) RecordPayment(status string) {
	m.paymentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCancellation(actor string, late bool) {
	lateLabel := "false"
	if late {
		lateLabel = "true"
	}
	m.cancellationsTotal.WithLabelValues(actor, lateLabel).Inc()
}

func (m *Metrics) RecordDriverDeactivated() {
	m.driverDeactivations.Inc()
}
