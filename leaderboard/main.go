// main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	leaderboardapi "github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/pruner"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/service"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/store"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/cluster"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/config"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/logging"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	mongodbu "github.com/Ftotnem/LEADERBOARD-SERVICES/shared/mongodb"
	redisu "github.com/Ftotnem/LEADERBOARD-SERVICES/shared/redis"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/registry"
)

func main() {
	// --- 1. Load Configuration ---
	// A local .env file is optional; real deployments inject the environment.
	_ = godotenv.Load()
	cfg, err := config.LoadLeaderboardServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. Logging ---
	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("service", registry.LeaderboardServiceType))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer startupCancel()

	// --- 3. Connect to MongoDB ---
	mongoClient, err := mongodbu.NewClient(startupCtx, logger, cfg.MongoDBConnStr, cfg.MongoDBDatabase)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Error("failed to disconnect from MongoDB", zap.Error(err))
		}
	}()

	// --- 4. Connect to Redis ---
	redisClient, err := redisu.NewRedisClusterClient(startupCtx, logger, cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("failed to connect to Redis cluster", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing Redis client", zap.Error(err))
		}
	}()

	// --- 5. Initialize Data Stores ---
	teamStore := store.NewTeamStore(logger.Named("teams"), mongoClient.Collection(cfg.MongoDBTeamCollection), nil)
	activityStore := store.NewActivityStore(logger.Named("activity"), redisClient)

	// --- 6. Ensure Default Teams Exist ---
	if err := teamStore.EnsureTeamsExist(startupCtx, parseDefaultTeams(cfg.DefaultTeams)); err != nil {
		logger.Fatal("failed to ensure default teams exist", zap.Error(err))
	}

	// --- 7. Initialize Business Logic ---
	leaderboardService := service.NewLeaderboardService(logger.Named("service"), service.Config{
		RankingLimit: cfg.RankingLimit,
		Retention:    cfg.ActivityRetention,
	}, teamStore, activityStore)

	// --- 8. Service Registrar and Assignment ---
	registrar := registry.NewServiceRegistrar(logger, redisClient, registry.LeaderboardServiceType, &cfg.CommonConfig, nil)
	registrar.Start()
	defer registrar.Stop()

	registryClient := registry.NewRegistryClient(logger.Named("registry"), redisClient, cfg.HeartbeatTTL, nil)
	assignmentManager := cluster.NewServiceAssignmentManager(logger.Named("assignment"), registryClient, registrar, cfg.HeartbeatInterval, nil)
	go assignmentManager.Start()
	defer assignmentManager.Stop()

	// --- 9. Activity Pruner ---
	activityPruner := pruner.NewActivityPruner(logger.Named("pruner"), leaderboardService, assignmentManager, cfg.PruneInterval, nil)
	go activityPruner.Start()
	defer activityPruner.Stop()

	// --- 10. Setup HTTP Server and Register Routes ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger.Named("http"))
	leaderboardapi.NewLeaderboardAPIHandlers(logger.Named("api"), leaderboardService, cfg.ListLimit).RegisterRoutes(baseServer.Router)

	// --- 11. Start HTTP Server ---
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- baseServer.Start()
	}()

	// --- 12. Graceful Shutdown ---
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

	if err := baseServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server gracefully stopped")
}

// parseDefaultTeams turns "id:name" entries into teams. An entry without a name uses its id.
func parseDefaultTeams(entries []string) []models.Team {
	teams := make([]models.Team, 0, len(entries))
	for _, e := range entries {
		id, name, found := strings.Cut(e, ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			continue
		}
		if !found || name == "" {
			name = id
		}
		teams = append(teams, models.Team{TeamID: id, TeamName: name})
	}
	return teams
}
