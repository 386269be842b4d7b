package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

// RedisAttemptWindow keeps one sorted set per source IP, scored by attempt time in
// microseconds, so the rate-limit check is a single ZCOUNT.
type RedisAttemptWindow struct {
	client    redis.UniversalClient
	window    time.Duration
	keyPrefix string
}

func NewRedisAttemptWindow(client redis.UniversalClient, window time.Duration) *RedisAttemptWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisAttemptWindow{client: client, window: window, keyPrefix: "auth:security:ip:"}
}

func (w *RedisAttemptWindow) key(ip string) string {
	return w.keyPrefix + ip
}

// Track adds the attempt and trims entries that can no longer fall inside any window.
func (w *RedisAttemptWindow) Track(ctx context.Context, attempt domain.LoginAttempt) error {
	key := w.key(attempt.IPAddress)
	at := attempt.OccurredAt.UTC().UnixMicro()
	member := strconv.FormatInt(attempt.ID, 10) + ":" + strconv.FormatInt(at, 10)
	floor := attempt.OccurredAt.Add(-w.window).UTC().UnixMicro()

	_, err := w.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(at), Member: member})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(floor, 10))
		p.PExpire(ctx, key, 2*w.window)
		return nil
	})
	return err
}

// CountByIP counts entries with after < at <= upTo.
func (w *RedisAttemptWindow) CountByIP(ctx context.Context, ip string, after, upTo time.Time) (int, error) {
	n, err := w.client.ZCount(ctx, w.key(ip),
		"("+strconv.FormatInt(after.UTC().UnixMicro(), 10),
		strconv.FormatInt(upTo.UTC().UnixMicro(), 10),
	).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
