// Package metrics holds the Prometheus collectors for access decisions, audit appends and transfers.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgaccess_access_decisions_total",
			Help: "Access validator decisions by outcome and reason code.",
		},
		[]string{"decision", "reason"},
	)

	AuditAppendAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orgaccess_audit_append_attempts_total",
		Help: "Audit chain append attempts, including retries after a sequence conflict.",
	})

	AuditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orgaccess_audit_append_failures_total",
		Help: "Audit entries that could not be appended after all retries.",
	})

	TransferTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgaccess_transfer_transitions_total",
			Help: "Ownership transfer state transitions by target state.",
		},
		[]string{"state"},
	)

	MembershipCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgaccess_membership_cache_lookups_total",
			Help: "Membership resolver cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{AccessDecisions, AuditAppendAttempts, AuditAppendFailures, TransferTransitions, MembershipCacheLookups}
}

var defaultOnce sync.Once

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegisterDefault registers all collectors with the default registry once per process.
func MustRegisterDefault() {
	defaultOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
