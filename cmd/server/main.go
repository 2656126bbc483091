package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"go-anonchat/internal/chat"
	"go-anonchat/internal/config"
	"go-anonchat/internal/db"
	"go-anonchat/internal/identity"
	"go-anonchat/internal/log"
	"go-anonchat/internal/metrics"
	myMiddleware "go-anonchat/internal/middleware"
	"go-anonchat/internal/moderation"
	"go-anonchat/internal/ratelimit"
)

func main() {
	// 1. Config & logging
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Message store
	var store chat.Store
	if cfg.Database.Driver == "memory" {
		store = chat.NewMemoryStore()
		logger.Warn().Msg("using in-memory message store, history is lost on restart")
	} else {
		database, err := db.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to connect to database")
		}
		defer database.Close()
		if err := database.AutoMigrate(); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")
		store = chat.NewRepository(database)
	}

	// 3. Redis, optional
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("connected to redis")
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 5. Admission gate
	var (
		limiter    ratelimit.Limiter
		memLimiter *ratelimit.Memory
	)
	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = ratelimit.NewRedis(redisClient, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
	default:
		memLimiter = ratelimit.NewMemory(cfg.RateLimit.Window, ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval))
		limiter = memLimiter
	}

	// 6. Chat feature
	resolver := identity.NewResolver(cfg.Identity.AddressHeaders)

	gateway := moderation.NewGateway(moderation.Config{
		Endpoint:  cfg.Moderation.Endpoint,
		Timeout:   cfg.Moderation.Timeout,
		AllowList: cfg.Moderation.AllowList,
		CacheSize: cfg.Moderation.CacheSize,
		CacheTTL:  cfg.Moderation.CacheTTL,
		RPS:       cfg.Moderation.RPS,
		Burst:     cfg.Moderation.Burst,
	}, moderation.WithLatencyObserver(m.ModerationDuration))

	var relay chat.Relay
	if redisClient != nil {
		relay = chat.NewRedisRelay(redisClient, cfg.Redis.Channel, logger)
	}
	hub := chat.NewHub(relay, m, logger)

	service := chat.NewService(store, gateway, hub, chat.ServiceConfig{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		FailOpen:         cfg.Moderation.FailOpen,
	}, m)

	chatHandler := chat.NewHandler(hub, service, store, resolver, cfg.WebSocket, cfg.Chat.PageSize)
	identityHandler := identity.NewHandler(resolver)
	rateLimit := myMiddleware.NewRateLimitMiddleware(limiter, resolver, cfg.RateLimit.Prefix, m.RateLimited)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.HTTPMiddleware(logger, resolver.Address))
	r.Use(rateLimit.Handle)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/chat", func(r chi.Router) {
		r.Get("/", chatHandler.ServeWs)
		r.Get("/getMessages", chatHandler.GetMessages)
		r.Get("/whoamI", identityHandler.WhoAmI)
		r.Post("/sendMessage", chatHandler.SendMessage)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Run until a signal arrives
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return hub.Subscribe(gctx)
	})
	if memLimiter != nil {
		g.Go(func() error {
			sweepLimiter(gctx, memLimiter, cfg.RateLimit.SweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// sweepLimiter drops expired limiter entries so idle addresses do not
// accumulate between requests.
func sweepLimiter(ctx context.Context, l *ratelimit.Memory, every time.Duration) {
	if every <= 0 {
		every = 20 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
