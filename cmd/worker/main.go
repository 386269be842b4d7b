package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/app/bootstrap"
)

func main() {
	configPath := flag.String("config", envOr("AUTH_SECURITY_CONFIG", "configs/default.yaml"), "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, *configPath)
	if err != nil {
		log.Fatalf("bootstrap worker runtime: %v", err)
	}
	if err := runtime.RunWorker(ctx); err != nil {
		log.Fatalf("run worker: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
