package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adriangmrraa/clinicforge/aws"
	"github.com/adriangmrraa/clinicforge/backend"
	"github.com/adriangmrraa/clinicforge/config"
	"github.com/adriangmrraa/clinicforge/console"
	"github.com/adriangmrraa/clinicforge/conversation"
	"github.com/adriangmrraa/clinicforge/metrics"
	"github.com/adriangmrraa/clinicforge/notify"
	"github.com/adriangmrraa/clinicforge/realtime"
	"github.com/adriangmrraa/clinicforge/redis"
	"github.com/adriangmrraa/clinicforge/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	var redisClient *redis.Client
	if cfg.RealtimeTransport == config.TransportRedis || cfg.RedisNotificationsChannel != "" {
		redisClient, err = redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
	}

	notifyCfg := notify.Config{Player: notify.LogPlayer{}}
	if redisClient != nil && cfg.RedisNotificationsChannel != "" {
		notifyCfg.Publisher = redisClient
		notifyCfg.Channel = cfg.RedisNotificationsChannel
	}
	notifier := notify.NewCenter(notifyCfg)

	credentials := backend.NewCredentials(cfg.AdminToken, cfg.AccessToken, cfg.TenantID)
	apiClient := backend.NewClient(cfg.APIBaseURL, credentials, &http.Client{Timeout: 30 * time.Second})
	apiClient.SetHooks(backend.Hooks{
		OnUnauthorized: func() {
			log.Warn().Msg("Access token rejected, operator must log in again")
			notifier.Error("Session expired", "Log in again to keep working")
		},
		OnForbidden: func(path string) {
			log.Warn().Str("path", path).Msg("Request forbidden for the selected tenant")
			notifier.Error("Access denied", "The clinic does not allow this action")
		},
	})

	var uploader conversation.Uploader = apiClient
	if cfg.S3Bucket != "" {
		s3Client, err := aws.NewClient(cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 uploader")
		}
		uploader = s3Client
	}

	channel := realtime.NewChannel(realtime.Config{
		Transport: newTransport(cfg, redisClient),
		Policy:    realtime.DefaultPolicy,
		Metrics:   appMetrics,
	})

	engine := console.New(console.Config{
		Backend:                    apiClient,
		Uploader:                   uploader,
		Credentials:                credentials,
		Realtime:                   channel,
		Notifier:                   notifier,
		Metrics:                    appMetrics,
		TenantID:                   cfg.TenantID,
		SoundEnabled:               cfg.SoundEnabled,
		MirrorPollInterval:         cfg.MirrorPollInterval,
		MirrorMessagesPollInterval: cfg.MirrorMessagesPollInterval,
		SessionPollInterval:        cfg.SessionPollInterval,
	})

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Console engine stopped")
		}
	}()

	srv := server.New(engine, server.Options{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     appMetrics,
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Failed to shut down server")
		}
	}()

	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	stop()
	<-engineDone
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func newTransport(cfg *config.Config, redisClient *redis.Client) realtime.Transport {
	switch cfg.RealtimeTransport {
	case config.TransportRedis:
		return realtime.NewRedis(redisClient, cfg.RedisEventsChannel)
	case config.TransportNATS:
		return realtime.NewNATS(cfg.NATSURL, cfg.NATSSubject)
	}

	header := http.Header{}
	if cfg.AdminToken != "" {
		header.Set("X-Admin-Token", cfg.AdminToken)
	}
	if cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AccessToken)
	}
	return realtime.NewWebSocket(cfg.RealtimeURL, header)
}
