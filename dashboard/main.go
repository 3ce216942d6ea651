// main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	dashboardapi "github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/classifier"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/engine"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/publisher"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/config"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/logging"
	redisu "github.com/Ftotnem/LEADERBOARD-SERVICES/shared/redis"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/registry"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/service"
)

func main() {
	// --- 1. Load Configuration ---
	// A local .env file is optional; real deployments inject the environment.
	_ = godotenv.Load()
	cfg, err := config.LoadDashboardServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. Logging ---
	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", registry.DashboardServiceType))

	// --- 3. Connect to Redis ---
	redisClient, err := redisu.NewRedisClusterClient(context.Background(), logger, cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("failed to connect to Redis cluster", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing Redis client", zap.Error(err))
		}
	}()

	// --- 4. Leaderboard Service Client ---
	leaderboardClient := service.NewLeaderboardClient(cfg.LeaderboardServiceURL, api.NewHTTPClient(cfg.FetchTimeout))

	// --- 5. Snapshot Publisher (optional) ---
	var snapshotPublisher engine.Publisher
	if cfg.SnapshotChannel != "" {
		p, err := publisher.NewRedisPublisher(logger.Named("publisher"), redisClient, cfg.SnapshotChannel)
		if err != nil {
			logger.Fatal("failed to create snapshot publisher", zap.Error(err))
		}
		snapshotPublisher = p
	}

	// --- 6. Leaderboard Engine ---
	eng, err := engine.New(logger.Named("engine"), engine.Config{
		ActivityInterval: cfg.ActivityPollInterval,
		SnapshotInterval: cfg.SnapshotPollInterval,
		FetchTimeout:     cfg.FetchTimeout,
		MutationTimeout:  cfg.MutationTimeout,
		RankingLimit:     cfg.RankingLimit,
		Thresholds: classifier.Thresholds{
			VeryActiveMin:     cfg.VeryActiveMin,
			ActiveMin:         cfg.ActiveMin,
			RecentlyActiveMin: cfg.RecentlyActiveMin,
		},
	}, leaderboardClient, snapshotPublisher)
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}
	go logEvents(logger.Named("events"), eng.Events())
	eng.Start()
	defer eng.Close()

	// --- 7. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(logger, redisClient, registry.DashboardServiceType, &cfg.CommonConfig, nil)
	registrar.Start()
	defer registrar.Stop()

	// --- 8. Setup HTTP Server and Register Routes ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger.Named("http"))
	dashboardapi.NewDashboardAPIHandlers(logger.Named("api"), eng, cfg.MutationTimeout).RegisterRoutes(baseServer.Router)
	baseServer.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// --- 9. Start HTTP Server ---
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- baseServer.Start()
	}()

	// --- 10. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Closing the engine first ends websocket streams, which Shutdown does not track.
	eng.Close()
	if err := baseServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server gracefully stopped")
}

// logEvents drains the engine's notifications until the engine closes them.
func logEvents(log *zap.Logger, events <-chan engine.Event) {
	for ev := range events {
		fields := []zap.Field{
			zap.String("kind", string(ev.Kind)),
			zap.String("feed", string(ev.Feed)),
			zap.String("team_id", ev.TeamID),
			zap.String("detail", ev.Detail),
		}
		if ev.Err != nil {
			fields = append(fields, zap.Error(ev.Err))
		}
		log.Warn("engine event", fields...)
	}
}
