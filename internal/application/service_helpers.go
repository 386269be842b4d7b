package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

const serviceName = "M08-Auth-Security-Core"

func appLogger(module string) *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", module,
		"layer", "application",
	)
}

// withTimeout bounds one storage round trip. The caller's deadline still wins when it is shorter.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storageError wraps adapter errors in ErrStorageFailure. Domain outcomes pass through unchanged.
func storageError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStorageFailure) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrIdentityNotFound) ||
		domain.IsTokenError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, operation, err)
}

func normalizeIP(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: ip address is required", domain.ErrInvalidInput)
	}
	if ip := net.ParseIP(trimmed); ip != nil {
		return ip.String(), nil
	}
	return "", fmt.Errorf("%w: invalid ip address", domain.ErrInvalidInput)
}

// clampUserAgent bounds the stored user agent and strips invalid UTF-8, which text
// columns reject. The cut never splits a rune.
func clampUserAgent(ua string) string {
	const maxLen = 512
	ua = strings.TrimSpace(strings.ToValidUTF8(ua, ""))
	if len(ua) <= maxLen {
		return ua
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}
