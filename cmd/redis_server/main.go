// Package main runs an in-process Redis (miniredis) for local development,
// so the agent can use the redis storage driver without a real server.
//
// Usage:
//
//	go run ./cmd/redis_server -addr 127.0.0.1:6379
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/guido-cesarano/syncq/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "listen address")
	flag.Parse()

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		logger.Log.Fatal().Err(err).Str("addr", *addr).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Strs("keys", s.Keys()).Msg("Shutting down MiniRedis...")
}
