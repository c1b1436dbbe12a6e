package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/application"
	"vn.io.arda/realtime/internal/auth"
	"vn.io.arda/realtime/internal/channel"
	"vn.io.arda/realtime/internal/config"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/infrastructure/keycloak"
	kafkaconsumer "vn.io.arda/realtime/internal/kafka"
	"vn.io.arda/realtime/internal/monitor"
	"vn.io.arda/realtime/internal/queue"
	"vn.io.arda/realtime/internal/realtime"
	"vn.io.arda/realtime/internal/store/memory"
	"vn.io.arda/realtime/internal/store/postgres"
	transporthttp "vn.io.arda/realtime/internal/transport/http"
	"vn.io.arda/realtime/internal/webhook"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("auth.jwt_secret is required")
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting arda-realtime")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Store ────────────────────────────────────────────────────────────────
	var store domain.Store
	switch cfg.Store {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		store = memory.New()
	default:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres migration failed")
		}
		log.Info().Msg("postgres connected")
		store = pg
	}

	// ── Job queue ────────────────────────────────────────────────────────────
	var jobs queue.Queue
	switch cfg.Queue {
	case "memory":
		log.Warn().Msg("using in-memory job queue, pending deliveries are lost on restart")
		jobs = queue.NewMemoryQueue()
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis ping failed")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
		jobs = queue.NewRedisQueue(rdb)
	}

	// ── IAM (Keycloak Admin API) ─────────────────────────────────────────────
	var (
		tenants  auth.TenantChecker = auth.AllowAllTenants{}
		resolver application.RecipientResolver
	)
	if cfg.Keycloak.BaseURL != "" {
		kc := keycloak.New(
			cfg.Keycloak.BaseURL,
			cfg.Keycloak.AdminRealm,
			cfg.Keycloak.AdminClientID,
			cfg.Keycloak.AdminClientSecret,
			cfg.Keycloak.CacheTTL,
		)
		tenants, resolver = kc, kc
	} else {
		log.Warn().Msg("keycloak not configured: every tenant is accepted and role recipients are ignored")
	}
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// ── Realtime registry & monitor ──────────────────────────────────────────
	registry := realtime.NewRegistry(verifier, tenants)
	mon := monitor.New(registry, monitor.Config{
		HealthInterval:         cfg.Monitor.HealthInterval,
		SnapshotInterval:       cfg.Monitor.SnapshotInterval,
		SweepInterval:          cfg.Monitor.SweepInterval,
		StaleAfter:             cfg.Monitor.StaleAfter,
		SweepBatch:             cfg.Monitor.SweepBatch,
		WarnConnections:        cfg.Monitor.WarnConnections,
		CriticalConnections:    cfg.Monitor.CriticalConnections,
		TenantMax:              cfg.Monitor.TenantMax,
		SpikeFactor:            cfg.Monitor.SpikeFactor,
		SpikeFloor:             cfg.Monitor.SpikeFloor,
		ConcentrationThreshold: cfg.Monitor.ConcentrationThreshold,
		ConcentrationMinTotal:  cfg.Monitor.ConcentrationMinTotal,
		HistorySize:            cfg.Monitor.HistorySize,
	})
	mon.Start(ctx)

	// ── Application services ─────────────────────────────────────────────────
	hooks := webhook.NewService(store, jobs, webhook.Config{
		Timeout:   cfg.Webhook.Timeout,
		UserAgent: cfg.Webhook.UserAgent,
	})
	svc := application.NewService(store, jobs, registry, resolver, application.Config{
		BulkBatchSize:  cfg.Dispatch.BulkBatchSize,
		BulkBatchDelay: cfg.Dispatch.BulkBatchDelay,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		RetryBaseDelay: cfg.Dispatch.RetryBaseDelay,
		RetryMaxDelay:  cfg.Dispatch.RetryMaxDelay,
	})
	events := application.NewEvents(svc, hooks)

	// ── Delivery workers ─────────────────────────────────────────────────────
	worker := application.NewWorker(svc, senders(cfg, registry, hooks), hooks)
	poller := &queue.Poller{
		Queue:    jobs,
		Queues:   worker.Queues(),
		Workers:  cfg.Dispatch.Workers,
		Interval: cfg.Dispatch.PollInterval,
		Handle:   worker.Handle,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("job poller stopped with error")
		}
	}()

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	if cfg.Kafka.Enabled {
		topics := cfg.Kafka.Topics
		if len(topics) == 0 {
			topics = kafkaconsumer.Topics()
		}
		consumer, err := kafkaconsumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID, topics, events)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
		log.Info().Strs("topics", topics).Msg("kafka consumer started")
	}

	// ── TTL Purge Job ─────────────────────────────────────────────────────────
	go func() {
		ticker := time.NewTicker(cfg.Retention.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.PurgeTTL(context.Background(), cfg.Retention.Days)
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, events, hooks, mon)
	gateway := transporthttp.NewGateway(registry, mon, transporthttp.GatewayConfig{
		AuthTimeout:    cfg.Gateway.AuthTimeout,
		PingInterval:   cfg.Gateway.PingInterval,
		PongWait:       cfg.Gateway.PongWait,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		SendBuffer:     cfg.Gateway.SendBuffer,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowOrigins,
	})
	router := transporthttp.NewRouter(handler, gateway, verifier, cfg.Server.AllowOrigins)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	// Hijacked websocket connections are not closed by Shutdown.
	log.Info().Int("connections", registry.CloseAll()).Msg("websocket connections closed")
	mon.Wait()
	wg.Wait()

	log.Info().Msg("arda-realtime stopped")
}

// senders builds the channel set. Channels without configuration are left
// out and fail their records as disabled.
func senders(cfg *config.Config, registry *realtime.Registry, hooks *webhook.Service) channel.Set {
	set := channel.Set{
		domain.ChannelInApp:   channel.NewInApp(registry),
		domain.ChannelWebhook: channel.NewWebhook(hooks),
	}
	if cfg.Email.Host != "" {
		set[domain.ChannelEmail] = channel.NewEmail(channel.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
	}
	if cfg.SMS.AccountSID != "" {
		set[domain.ChannelSMS] = channel.NewSMS(channel.TwilioConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			FromNumber: cfg.SMS.From,
			BaseURL:    cfg.SMS.BaseURL,
		})
	}
	if cfg.Push.URL != "" {
		set[domain.ChannelPush] = channel.NewPush(channel.PushConfig{URL: cfg.Push.URL, APIKey: cfg.Push.APIKey})
	}
	return set
}
