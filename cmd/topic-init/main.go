// v1
// cmd/topic-init/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"nrgchamp/ecsmonitor/internal/config"
	"nrgchamp/ecsmonitor/internal/logging"
	"nrgchamp/ecsmonitor/internal/transport/kafkabus"
)

func main() {
	replication := flag.Int("replication", 1, "Replication factor for the bus topics")
	flag.Parse()
	if *replication <= 0 {
		fmt.Println("--replication must be positive")
		os.Exit(2)
	}

	logger, _, lf := logging.Init("topic-init")
	defer func() {
		if err := lf.Close(); err != nil {
			logger.Warn("logfile_close", "error", err)
		}
	}()

	cfg, err := config.Load(flag.Args())
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(2)
	}
	topics := kafkabus.BusTopics(kafkabus.Config{Topic: cfg.Topic, PresenceTopic: cfg.PresenceTopic}, *replication)
	logger.Info("topic_init_start", "brokers", cfg.KafkaBrokers, "topics", len(topics), "replication", *replication)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kafkabus.EnsureTopics(ctx, logger, cfg.KafkaBrokers, topics); err != nil {
		logger.Error("topic_init_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("topic_init_complete", "topics", len(topics))
}
