package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 2 * time.Second
	ioTimeout   = time.Second
	pingTimeout = 3 * time.Second
)

// Connect accepts a redis:// or rediss:// URL or a bare host:port and returns a pinged client.
// Explicit URL timeouts win over the package defaults.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := clientOptions(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opt.Addr, err)
	}
	slog.Default().InfoContext(ctx, "redis client ready",
		"module", "cache",
		"layer", "adapter",
		"operation", "connect",
		"outcome", "success",
		"addr", opt.Addr,
		"db", opt.DB,
	)
	return client, nil
}

func clientOptions(redisURL string) (*redis.Options, error) {
	raw := strings.TrimSpace(redisURL)
	if raw == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if !strings.Contains(raw, "://") {
		return &redis.Options{
			Addr:         raw,
			DialTimeout:  dialTimeout,
			ReadTimeout:  ioTimeout,
			WriteTimeout: ioTimeout,
		}, nil
	}
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = dialTimeout
	}
	return opt, nil
}
