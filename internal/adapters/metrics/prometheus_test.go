package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

var _ ports.SecurityMetrics = (*Collector)(nil)

// counterValue sums the counter family name, restricted to series carrying label=value
// when label is set.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.LoginDecision("allowed")
	c.LoginDecision("allowed")
	c.LoginDecision("RATE_LIMITED")
	c.AccountLocked()
	c.AccountUnlocked("lock_expired")
	c.ResetTokenConsumed("expired")
	c.StorageFailure("audit_log")

	if got := counterValue(t, reg, "auth_security_login_decisions_total", "outcome", "allowed"); got != 2 {
		t.Fatalf("allowed decisions = %v, want 2", got)
	}
	if got := counterValue(t, reg, "auth_security_login_decisions_total", "", ""); got != 3 {
		t.Fatalf("all decisions = %v, want 3", got)
	}
	if got := counterValue(t, reg, "auth_security_account_locks_total", "", ""); got != 1 {
		t.Fatalf("account locks = %v, want 1", got)
	}
	if got := counterValue(t, reg, "auth_security_reset_token_consumptions_total", "result", "expired"); got != 1 {
		t.Fatalf("expired consumptions = %v, want 1", got)
	}
	if got := counterValue(t, reg, "auth_security_storage_failures_total", "component", "audit_log"); got != 1 {
		t.Fatalf("storage failures = %v, want 1", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.AuditEventAppended("ACCOUNT_LOCK")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `auth_security_audit_events_total{event_type="ACCOUNT_LOCK"} 1`) {
		t.Fatalf("expected audit series in scrape output:\n%s", body)
	}
}
