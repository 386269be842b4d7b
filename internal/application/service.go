package application

import (
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/ports"
)

// Service composes the four security components into the login and reset flows
// used by the transport adapters.
type Service struct {
	cfg        Config
	ledger     *AttemptLedger
	guard      *AccountGuard
	tokens     *ResetTokenStore
	audit      *SecurityAuditLog
	identities ports.IdentityDirectory
	clock      ports.Clock
}

type Dependencies struct {
	Config         Config
	Attempts       ports.AttemptRepository
	AttemptCounter ports.IPAttemptCounter
	AccountStates  ports.AccountStateRepository
	ResetTokens    ports.ResetTokenRepository
	Events         ports.SecurityEventRepository
	Identities     ports.IdentityDirectory
	Clock          ports.Clock
	TokenGenerator ports.TokenGenerator
	TokenHasher    ports.TokenHasher
	Metrics        ports.SecurityMetrics
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config.withDefaults()
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	audit := NewSecurityAuditLog(deps.Events, deps.Clock, metrics, cfg)
	ledger := NewAttemptLedger(deps.Attempts, deps.AttemptCounter, metrics, cfg)
	guard := NewAccountGuard(AccountGuardDependencies{
		Ledger:     ledger,
		States:     deps.AccountStates,
		Identities: deps.Identities,
		Audit:      audit,
		Clock:      deps.Clock,
		Metrics:    metrics,
		Config:     cfg,
	})
	tokens := NewResetTokenStore(ResetTokenStoreDependencies{
		Tokens:     deps.ResetTokens,
		Identities: deps.Identities,
		Generator:  deps.TokenGenerator,
		Hasher:     deps.TokenHasher,
		Audit:      audit,
		Metrics:    metrics,
		Config:     cfg,
	})

	return &Service{
		cfg:        cfg,
		ledger:     ledger,
		guard:      guard,
		tokens:     tokens,
		audit:      audit,
		identities: deps.Identities,
		clock:      deps.Clock,
	}
}

func (s *Service) Ledger() *AttemptLedger { return s.ledger }
func (s *Service) Guard() *AccountGuard { return s.guard }
func (s *Service) ResetTokens() *ResetTokenStore { return s.tokens }
func (s *Service) AuditLog() *SecurityAuditLog { return s.audit }
