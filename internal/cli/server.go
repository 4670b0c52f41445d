package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-activity-service/internal/app"
	"live-activity-service/internal/config"
	"live-activity-service/internal/infra/memory"
	"live-activity-service/internal/infra/postgres"
	"live-activity-service/internal/infra/rabbit"
	infraredis "live-activity-service/internal/infra/redis"
	"live-activity-service/internal/realtime"
	transport "live-activity-service/internal/transport/http"
)

const defaultExchange = "live.notifications"

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live activity server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var repo app.Repository
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)
		logger.Info("using postgres repository")
	case redisClient != nil:
		repo = infraredis.NewRepository(redisClient, redisTTL)
		logger.Info("using redis repository", "addr", cfg.Redis.Addr)
	default:
		repo = memory.NewRepository()
		logger.Info("using in-memory repository")
	}

	pinTTL := config.TTLDuration(cfg.PIN.CacheTTL, 10*time.Minute)
	var directory app.PINDirectory
	var presence realtime.PresenceStore
	if redisClient != nil {
		directory = infraredis.NewPINDirectory(redisClient, repo, pinTTL)
		presence = infraredis.NewPresence(redisClient, redisTTL)
	} else {
		directory = memory.NewPINDirectory(repo, pinTTL)
		presence = memory.NewPresence()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, gctx := errgroup.WithContext(ctx)

	var sinks []realtime.Sink
	if cfg.Rabbit.URL != "" {
		exchange := cfg.Rabbit.Exchange
		if exchange == "" {
			exchange = defaultExchange
		}
		mirror, conn, err := rabbit.Dial(cfg.Rabbit.URL, exchange, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		sinks = append(sinks, mirror)
		group.Go(func() error { return mirror.Run(gctx) })
		logger.Info("mirroring notifications", "exchange", exchange)
	}

	registry := realtime.NewRegistry(logger, presence)
	group.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	router := realtime.NewRouter(registry, logger, sinks...)
	service := app.NewService(app.Deps{
		Repo:      repo,
		Publisher: router,
		Directory: directory,
		Online:    registry,
		Logger:    logger,
	}, engineOptions(cfg))
	defer service.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(service, registry, logger).ServeWS)
	transport.NewAPIHandler(service, registry, logger).Register(mux)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	group.Go(func() error {
		logger.Info("starting live activity service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.TTLDuration(cfg.Server.ShutdownTimeout, 5*time.Second))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func engineOptions(cfg config.Config) app.Options {
	scoring := app.DefaultScoringPolicy()
	if cfg.Scoring.BasePoints > 0 {
		scoring.BasePoints = cfg.Scoring.BasePoints
	}
	if cfg.Scoring.SpeedBonusMax > 0 {
		scoring.SpeedBonusMax = cfg.Scoring.SpeedBonusMax
	}
	if cfg.Scoring.StreakThreshold > 0 {
		scoring.StreakThreshold = cfg.Scoring.StreakThreshold
	}
	if cfg.Scoring.StreakBonus > 0 {
		scoring.StreakBonus = cfg.Scoring.StreakBonus
	}
	return app.Options{
		StorageTimeout:      config.TTLDuration(cfg.Engine.StorageTimeout, 0),
		QueueSize:           cfg.Engine.QueueSize,
		DefaultTimerSeconds: cfg.Engine.DefaultTimerSeconds,
		TimeUnit:            config.TTLDuration(cfg.Engine.TimeUnit, 0),
		IdleTimeout:         config.TTLDuration(cfg.Engine.IdleTimeout, 0),
		Scoring:             scoring,
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
