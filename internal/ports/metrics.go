package ports

// SecurityMetrics receives counters from the application layer.
type SecurityMetrics interface {
	LoginDecision(outcome string)
	AccountLocked()
	AccountUnlocked(source string)
	ResetTokenIssued()
	ResetTokenConsumed(result string)
	AuditEventAppended(eventType string)
	StorageFailure(component string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) LoginDecision(string) {}
func (NopMetrics) AccountLocked() {}
func (NopMetrics) AccountUnlocked(string) {}
func (NopMetrics) ResetTokenIssued() {}
func (NopMetrics) ResetTokenConsumed(string) {}
func (NopMetrics) AuditEventAppended(string) {}
func (NopMetrics) StorageFailure(string) {}
