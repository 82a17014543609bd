package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-guard/alert"
	"github.com/marcelsud/webhook-guard/config"
	"github.com/marcelsud/webhook-guard/dispatch"
	"github.com/marcelsud/webhook-guard/internal/http/chi"
	"github.com/marcelsud/webhook-guard/internal/logger"
	"github.com/marcelsud/webhook-guard/loopguard"
	"github.com/marcelsud/webhook-guard/metrics"
	"github.com/marcelsud/webhook-guard/monitor"
	"github.com/marcelsud/webhook-guard/ratelimit"
	ratelimitredis "github.com/marcelsud/webhook-guard/ratelimit/redis"
	"github.com/marcelsud/webhook-guard/realtime"
	"github.com/marcelsud/webhook-guard/realtime/phoenix"
	"github.com/marcelsud/webhook-guard/routes"
	"github.com/marcelsud/webhook-guard/usage"
	usageredis "github.com/marcelsud/webhook-guard/usage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TIMEOUT = 30 * time.Second

/* main wires the components together and is the only place that knows
 * about concrete storage and transports.
 * Imports go one way: cmd -> http layer -> domain packages -> storage adapters
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("service stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	routeLoader := routes.NewLoader()
	if err := routeLoader.Load(cfg.RoutesFile); err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	repo := usageredis.NewRepositoryFromClient(client)
	defer repo.Close(context.Background())

	counters := ratelimitredis.NewStore(client)
	conversationLimiter := ratelimit.New(counters, cfg.ConversationRateLimit, cfg.ConversationRateWindow, ratelimit.WithPrefix("conversation:"))
	callbackLimiter := ratelimit.New(counters, cfg.CallbackRateLimit, time.Minute)

	mon := monitor.New(cfg.MonitorCapacity, monitor.WithSlowThreshold(cfg.SlowRequestThreshold))

	dispatcher := dispatch.New(dispatch.Config{
		Recorder:      mon,
		Logger:        log.With().Str("component", "dispatcher").Logger(),
		Workers:       cfg.DispatchWorkers,
		RatePerSecond: cfg.DispatchRatePerSecond,
		Defaults:      dispatchDefaults(cfg),
	})

	guard, err := loopguard.New(loopguard.Config{
		SoftLimit:     cfg.LoopSoftLimit,
		HardLimit:     cfg.LoopHardLimit,
		QuietWindow:   cfg.LoopQuietWindow,
		ThrottleDelay: cfg.LoopThrottleDelay,
		Source:        cfg.WebhookSource,
	}, conversationLimiter, loopguard.WithLogger(log.With().Str("component", "loopguard").Logger()))
	if err != nil {
		return err
	}

	engine := alert.NewEngine(mon, alert.Thresholds{
		MinSuccessRate:      cfg.AlertMinSuccessRate,
		CriticalSuccessRate: cfg.AlertCriticalSuccessRate,
		MaxAvgLatency:       cfg.AlertMaxAvgLatency,
		CriticalAvgLatency:  cfg.AlertCriticalAvgLatency,
		MaxServerErrors:     0,
		MaxClientErrors:     cfg.AlertMaxClientErrors,
	}, alert.WithWindow(cfg.AlertWindow), alert.WithLogger(log.With().Str("component", "alerts").Logger()))
	stopAlerts := engine.Start(ctx, cfg.AlertInterval)
	defer stopAlerts()

	provider, closeProvider, err := realtimeProvider(cfg, log)
	if err != nil {
		return err
	}
	defer closeProvider()
	manager := realtime.NewManager(provider,
		realtime.WithLogger(log.With().Str("component", "realtime").Logger()),
		realtime.WithStormDetection(cfg.StormWindow, cfg.StormThreshold),
	)
	defer manager.Close()

	usageService := usage.NewService(repo, usage.WithInstanceTTL(cfg.InstanceCacheTTL))
	stopWatch := usage.WatchInstances(manager, usageService)
	defer stopWatch()

	exporter, err := metrics.NewOTelExporter(metrics.NewServiceCollector(mon, manager, engine))
	if err != nil {
		return fmt.Errorf("creating metrics exporter: %w", err)
	}
	defer exporter.Shutdown(context.Background())

	r := chi.Handlers(ctx, chi.Deps{
		Logger:          log.With().Str("component", "http").Logger(),
		Guard:           guard,
		Forwarder:       dispatcher,
		Monitor:         mon,
		Alerts:          engine,
		Subscriptions:   manager,
		Usage:           usageService,
		CallbackLimiter: callbackLimiter,
		Routes:          routeLoader,
		Metrics:         exporter.ServeHTTP(),
		Log:             logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat},

		HubVerifyToken: cfg.HubVerifyToken,
		HubAppSecrets:  cfg.HubAppSecrets(),
		CallbackSecret: cfg.N8NSharedSecret,

		RealtimeToken:     cmp.Or(cfg.RealtimeClientToken, cfg.N8NSharedSecret),
		RealtimeResources: cfg.RealtimeResources,
		RealtimeOrigins:   cfg.RealtimeAllowedOrigins,
	})
	srv := &http.Server{
		ReadTimeout: 30 * time.Second,
		Addr:        ":" + cfg.Port,
		Handler:     r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	log.Info().Str("port", cfg.Port).Int("routes", len(routeLoader.List())).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	if err := <-errShutdown; err != nil {
		return err
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), TIMEOUT)
	defer cancelDrain()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("background deliveries abandoned")
	}
	return nil
}

func dispatchDefaults(cfg *config.Config) []dispatch.Option {
	opts := []dispatch.Option{dispatch.WithSource(cfg.WebhookSource)}
	if cfg.N8NSharedSecret != "" {
		opts = append(opts, dispatch.WithBearerToken(cfg.N8NSharedSecret))
	}
	return opts
}

func realtimeProvider(cfg *config.Config, log zerolog.Logger) (realtime.Provider, func(), error) {
	if cfg.RealtimeURL == "" {
		log.Info().Msg("no realtime backend configured, instance cache relies on its ttl")
		return realtime.NopProvider{}, func() {}, nil
	}
	client, err := phoenix.New(cfg.RealtimeURL, cfg.RealtimeAPIKey,
		phoenix.WithLogger(log.With().Str("component", "phoenix").Logger()))
	if err != nil {
		return nil, nil, fmt.Errorf("creating realtime client: %w", err)
	}
	return client, func() { client.Close() }, nil
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("forcing closing the server: %w", err)
	}
}
