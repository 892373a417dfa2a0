package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/triage/internal/bootstrap"
	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	svc, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start engine", "err", err)
	}
	defer svc.Close()

	// Init rabbitmq
	conn, err := queue.Dial(cfg.AMQPURL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	// Declare queues and the events exchange; also used to publish retries
	// and events
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.Setup(ch); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	p := &queue.Processor{
		Engine:  svc.Engine,
		Tickets: svc.Tickets,
		Events:  ch,
	}
	if sources := svc.ArchiveSources(); sources != nil {
		p.Sources = sources
	}
	if cfg.Gateway.URL != "" {
		p.Gateway, err = gateway.NewService(gateway.ServiceParams{
			Classifier:  svc.Engine,
			Transcriber: svc.AI,
			Messenger: gateway.NewClient(gateway.Params{
				BaseURL:  cfg.Gateway.URL,
				APIKey:   cfg.Gateway.APIKey,
				Instance: cfg.Gateway.Instance,
			}),
			Tickets:  svc.Tickets,
			Language: cfg.AI.AudioLanguage,
		})
		if err != nil {
			logger.Fatal("Failed to create gateway service", "err", err)
		}
	}

	if err := queue.Consume(ctx, conn, p, cfg.Queue.Concurrency, svc.AI); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Worker stopped")
}
