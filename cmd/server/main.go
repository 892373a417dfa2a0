package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/triage/internal/bootstrap"
	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/internal/corpus"
	"github.com/OFFIS-RIT/triage/internal/gateway"
	"github.com/OFFIS-RIT/triage/internal/queue"
	"github.com/OFFIS-RIT/triage/internal/server"
	mid "github.com/OFFIS-RIT/triage/internal/server/middleware"
	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/logger"
	"github.com/OFFIS-RIT/triage/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start engine", "err", err)
	}
	defer svc.Close()

	app := &mid.App{
		Engine:  svc.Engine,
		Tickets: svc.Tickets,
		Archive: svc.Archive,
		Loaders: cfg.LoaderParams(),
	}

	if cfg.Queue.Enabled {
		conn, err := queue.Dial(cfg.AMQPURL())
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.Setup(ch); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		app.Queue = ch
	}

	if cfg.Gateway.URL != "" {
		client := gateway.NewClient(gateway.Params{
			BaseURL:  cfg.Gateway.URL,
			APIKey:   cfg.Gateway.APIKey,
			Instance: cfg.Gateway.Instance,
		})
		app.Gateway, err = gateway.NewService(gateway.ServiceParams{
			Classifier:  svc.Engine,
			Transcriber: svc.AI,
			Messenger:   client,
			Tickets:     svc.Tickets,
			Language:    cfg.AI.AudioLanguage,
		})
		if err != nil {
			logger.Fatal("Failed to create gateway service", "err", err)
		}
		if cfg.Gateway.WebhookURL != "" {
			if err := client.SetWebhook(ctx, cfg.Gateway.WebhookURL); err != nil {
				logger.Error("Failed to register webhook", "url", cfg.Gateway.WebhookURL, "err", err)
			} else {
				logger.Info("Registered webhook", "url", cfg.Gateway.WebhookURL)
			}
		}
	}

	if err := svc.SeedCorpus(ctx); err != nil {
		logger.Error("Failed to load knowledge base", "err", err)
	}

	if cfg.Corpus.Watch && cfg.Corpus.Dir != "" {
		dir, err := corpus.OpenDir(cfg.Corpus.Dir, svc.Files)
		if err != nil {
			logger.Fatal("Failed to open corpus directory", "err", err)
		}
		go func() {
			if err := dir.Watch(ctx, svc.Engine, corpus.DefaultDebounce); err != nil {
				logger.Error("Corpus watch stopped", "err", err)
			}
		}()
	}

	e := server.New(app, cfg.APIKey)
	if err := server.Run(ctx, e, app, cfg.Port); err != nil {
		logger.Fatal("Server stopped", "err", err)
	}
}
