package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recruitmate/internal/agent"
	"recruitmate/internal/bus"
	"recruitmate/internal/cache"
	"recruitmate/internal/channel"
	"recruitmate/internal/conversation"
	"recruitmate/internal/metrics"
	"recruitmate/internal/provider"
	"recruitmate/internal/server"
	"recruitmate/internal/tool"
	"recruitmate/internal/tracing"
)

// drainGrace is added to the message timeout when waiting for workers at
// shutdown.
const drainGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the WhatsApp webhook and run the agent workers",
		Long:  "Starts the HTTP server (webhook, /healthz, /metrics) and the worker pool. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func hours(n int) time.Duration   { return time.Duration(n) * time.Hour }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var logCloser io.Closer
	logger, logCloser, err = newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	box, err := newBox(cfg.Store.EncryptionKey)
	if err != nil {
		return err
	}
	if box == nil {
		logger.Warn("no encryption key configured; channel credentials are stored and cached in plaintext")
	}

	st, err := openStore(ctx, cfg, box)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	kv, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer kv.Close()

	conversations := conversation.NewStore(kv, st, conversation.Options{
		SystemPrompt: agent.SystemPrompt(cfg.Agent.SystemPromptExtra),
		DedupTTL:     hours(cfg.Cache.DedupTTLHours),
		SessionTTL:   hours(cfg.Cache.SessionTTLHours),
		ConfigTTL:    hours(cfg.Cache.ConfigTTLHours),
		Box:          box,
	}, logger)

	backend, err := provider.New(cfg.LLM, logger)
	if err != nil {
		return err
	}
	if err := backend.Healthy(ctx); err != nil {
		logger.Warn("llm backend unhealthy at startup", "backend", backend.Name(), "err", err)
	} else {
		logger.Info("llm backend healthy", "backend", backend.Name(), "model", cfg.LLM.Model)
	}

	registry := tool.NewRegistry(logger)
	registry.Register(tool.RecruitingTools(st)...)

	assistant := agent.New(agent.Config{
		Backend:     backend,
		Tools:       registry,
		Limiter:     agent.NewLimiter(cfg.LLM.RatePerMinute, cfg.LLM.Burst),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxRounds:   cfg.Agent.MaxRounds,
		Logger:      logger,
	})

	messageBus := bus.New(cfg.General.QueueSize, 0, logger)

	messengers := channel.Messengers(channel.ClientOptions{
		APIBase:          cfg.WhatsApp.APIBase,
		APIVersion:       cfg.WhatsApp.APIVersion,
		HTTPClient:       provider.SharedHTTPClient(seconds(cfg.WhatsApp.TimeoutSeconds)),
		BrazilNinthDigit: cfg.WhatsApp.BrazilNinthDigit,
		Logger:           logger,
	})

	messageTimeout := seconds(cfg.Agent.MessageTimeoutSeconds)
	workers := agent.NewLoop(agent.LoopConfig{
		Agent:          assistant,
		Conversations:  conversations,
		Locks:          conversation.NewLocks(),
		Messengers:     messengers,
		Bus:            messageBus,
		Logger:         logger,
		Concurrency:    cfg.General.MaxConcurrentMessages,
		MessageTimeout: messageTimeout,
	})

	webhook := channel.NewWebhookHandler(channel.WebhookConfig{
		Auth: channel.NewAuthenticator(channel.AuthConfig{
			Channels:            st,
			AppSecret:           cfg.WhatsApp.AppSecret,
			FallbackVerifyToken: cfg.WhatsApp.FallbackVerifyToken,
			Production:          cfg.General.Production(),
			Logger:              logger,
		}),
		Conversations: conversations,
		Bus:           messageBus,
		MaxBodyBytes:  cfg.WhatsApp.MaxBodyBytes,
		Logger:        logger,
	})

	srvCfg := server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout: seconds(cfg.Server.WriteTimeoutSeconds),
		WebhookPath:  cfg.WhatsApp.WebhookPath,
		Webhook:      webhook,
		Checks: map[string]server.CheckFunc{
			"store": st.Ping,
		},
		Logger: logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
		srvCfg.Metrics = metrics.Collector.Handler()
	}

	// Workers outlive the signal context so queued messages are drained
	// after the HTTP server stops accepting deliveries.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		workers.Run(workerCtx)
	}()

	logger.Info("recruitmate started",
		"version", version,
		"environment", cfg.General.Environment,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Backend,
	)

	serveErr := server.New(srvCfg).Run(ctx)
	if serveErr != nil {
		logger.Error("http server stopped", "err", serveErr)
	}

	logger.Info("shutting down, draining queued messages", "queued", messageBus.Len())
	messageBus.Close()

	select {
	case <-workersDone:
		logger.Info("shutdown complete")
	case <-time.After(messageTimeout + drainGrace):
		logger.Warn("drain timed out, abandoning queued messages", "queued", messageBus.Len())
		cancelWorkers()
		<-workersDone
	}

	return serveErr
}
