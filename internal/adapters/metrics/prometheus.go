package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auth_security"

// Collector implements ports.SecurityMetrics on Prometheus counters.
type Collector struct {
	loginDecisions  *prometheus.CounterVec
	accountLocks    prometheus.Counter
	accountUnlocks  *prometheus.CounterVec
	tokensIssued    prometheus.Counter
	tokensConsumed  *prometheus.CounterVec
	auditEvents     *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
}

// NewCollector registers every series on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_decisions_total",
			Help:      "Login guard decisions by outcome.",
		}, []string{"outcome"}),
		accountLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_locks_total",
			Help:      "Accounts moved to the locked state.",
		}),
		accountUnlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_unlocks_total",
			Help:      "Locks cleared, by source.",
		}, []string{"source"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_tokens_issued_total",
			Help:      "Password reset tokens issued.",
		}),
		tokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_token_consumptions_total",
			Help:      "Password reset token consumption attempts by result.",
		}, []string{"result"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Security events appended to the audit log.",
		}, []string{"event_type"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Storage errors surfaced by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		c.loginDecisions,
		c.accountLocks,
		c.accountUnlocks,
		c.tokensIssued,
		c.tokensConsumed,
		c.auditEvents,
		c.storageFailures,
	)
	return c
}

func (c *Collector) LoginDecision(outcome string) {
	c.loginDecisions.WithLabelValues(outcome).Inc()
}

func (c *Collector) AccountLocked() {
	c.accountLocks.Inc()
}

func (c *Collector) AccountUnlocked(source string) {
	c.accountUnlocks.WithLabelValues(source).Inc()
}

func (c *Collector) ResetTokenIssued() {
	c.tokensIssued.Inc()
}

func (c *Collector) ResetTokenConsumed(result string) {
	c.tokensConsumed.WithLabelValues(result).Inc()
}

func (c *Collector) AuditEventAppended(eventType string) {
	c.auditEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) StorageFailure(component string) {
	c.storageFailures.WithLabelValues(component).Inc()
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
