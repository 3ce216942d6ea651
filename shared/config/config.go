package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// CommonConfig holds configuration fields that are shared across both services.
type CommonConfig struct {
	RedisAddrs              []string      // Redis cluster addresses (e.g., "redis-cluster:6379")
	RedisPassword           string        // Redis password for authentication
	HeartbeatInterval       time.Duration // How often to send a heartbeat to the registry (e.g., 5s)
	HeartbeatTTL            time.Duration // How long an instance is considered alive without a heartbeat (e.g., 15s)
	RegistryCleanupInterval time.Duration // How often the registry actively cleans stale entries (e.g., 30s)
	ServiceIP               string        // The IP address this service advertises for registration (Kubernetes Pod IP)
	ServicePort             int           // The port this service listens on, used for registration
	LogLevel                string
	LogEncoding             string
}

// DashboardServiceConfig holds configuration specific to the dashboard service,
// which runs the polling, merging and ranking engine.
type DashboardServiceConfig struct {
	CommonConfig
	ListenAddr            string        // Address for the HTTP server (e.g., ":8090")
	LeaderboardServiceURL string        // Base URL of the leaderboard data service (e.g., "http://leaderboard-service:8083")
	ActivityPollInterval  time.Duration // Fast cadence: activity feed (e.g., 30s)
	SnapshotPollInterval  time.Duration // Slow cadence: leaderboard + stats + rankings (e.g., 60s)
	FetchTimeout          time.Duration // Upper bound for one poll request
	MutationTimeout       time.Duration // Upper bound for one create/update/delete round trip
	RankingLimit          int           // Entries kept per projection, 0 keeps all
	VeryActiveMin         int64
	ActiveMin             int64
	RecentlyActiveMin     int64
	SnapshotChannel       string // Redis Pub/Sub channel snapshots are published on, empty disables publishing
}

// LeaderboardServiceConfig holds configuration specific to the leaderboard data service.
type LeaderboardServiceConfig struct {
	CommonConfig
	ListenAddr            string        // Address for the HTTP server (e.g., ":8083")
	MongoDBConnStr        string        // MongoDB connection string
	MongoDBDatabase       string        // MongoDB database name
	MongoDBTeamCollection string        // MongoDB collection holding teams
	ListLimit             int           // Default size of GET /leaderboard
	RankingLimit          int           // Entries per category in GET /leaderboard/rankings
	ActivityRetention     time.Duration // How long query events are kept for the 1h/24h windows
	PruneInterval         time.Duration // How often expired query events are removed
	DefaultTeams          []string      // Teams ensured at startup, as "id:name" pairs
}

// LoadCommonConfig loads common configuration from environment variables.
func LoadCommonConfig() (CommonConfig, error) {
	cfg := CommonConfig{}
	var err error

	redisAddrsStr := os.Getenv("REDIS_ADDRS")
	if redisAddrsStr == "" {
		cfg.RedisAddrs = []string{"redis-cluster-headless.leaderboard.svc.cluster.local:6379"} // Default for K8s Service
	} else {
		for _, addr := range strings.Split(redisAddrsStr, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.RedisAddrs = append(cfg.RedisAddrs, addr)
			}
		}
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.HeartbeatInterval, err = getDuration("SERVICE_HEARTBEAT_INTERVAL", 5*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.HeartbeatTTL, err = getDuration("SERVICE_HEARTBEAT_TTL", 15*time.Second)
	if err != nil {
		return cfg, err
	}
	cfg.RegistryCleanupInterval, err = getDuration("SERVICE_REGISTRY_CLEANUP_INTERVAL", 30*time.Second)
	if err != nil {
		return cfg, err
	}

	// Injected by Kubernetes; falls back to all interfaces for local development.
	cfg.ServiceIP = getString("POD_IP", "0.0.0.0")
	cfg.LogLevel = getString("LOG_LEVEL", "info")
	cfg.LogEncoding = getString("LOG_ENCODING", "json")

	return cfg, nil
}

func getString(envKey, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	return defaultVal
}

// Helper function to parse duration from environment variable
func getDuration(envKey string, defaultVal time.Duration) (time.Duration, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format for %s: %w", envKey, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration (got %s)", envKey, valStr)
	}
	return d, nil
}

// Helper function to parse int from environment variable
func getInt(envKey string, defaultVal int) (int, error) {
	valStr := os.Getenv(envKey)
	if valStr == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format for %s: %w", envKey, err)
	}
	return i, nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8090" -> 8090, "0.0.0.0:8090" -> 8090)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}

// LoadDashboardServiceConfig loads configuration for the dashboard service.
func LoadDashboardServiceConfig() (*DashboardServiceConfig, error) {
	common, err := LoadCommonConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for dashboard-service: %w", err)
	}

	cfg := &DashboardServiceConfig{
		CommonConfig:          common,
		ListenAddr:            getString("DASHBOARD_LISTEN_ADDR", ":8090"),
		LeaderboardServiceURL: strings.TrimRight(getString("LEADERBOARD_SERVICE_URL", "http://leaderboard-service:8083"), "/"),
		SnapshotChannel:       os.Getenv("DASHBOARD_SNAPSHOT_CHANNEL"),
	}

	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from DASHBOARD_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	if cfg.ActivityPollInterval, err = getDuration("DASHBOARD_ACTIVITY_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapshotPollInterval, err = getDuration("DASHBOARD_SNAPSHOT_POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("DASHBOARD_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MutationTimeout, err = getDuration("DASHBOARD_MUTATION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RankingLimit, err = getInt("DASHBOARD_RANKING_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.RankingLimit < 0 {
		return nil, fmt.Errorf("DASHBOARD_RANKING_LIMIT must be zero or positive (got %d)", cfg.RankingLimit)
	}

	veryActive, err := getInt("ACTIVITY_VERY_ACTIVE_MIN", 20)
	if err != nil {
		return nil, err
	}
	active, err := getInt("ACTIVITY_ACTIVE_MIN", 10)
	if err != nil {
		return nil, err
	}
	recentlyActive, err := getInt("ACTIVITY_RECENTLY_ACTIVE_MIN", 1)
	if err != nil {
		return nil, err
	}
	cfg.VeryActiveMin, cfg.ActiveMin, cfg.RecentlyActiveMin = int64(veryActive), int64(active), int64(recentlyActive)

	return cfg, nil
}

// LoadLeaderboardServiceConfig loads configuration for the leaderboard data service.
func LoadLeaderboardServiceConfig() (*LeaderboardServiceConfig, error) {
	common, err := LoadCommonConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load common config for leaderboard-service: %w", err)
	}

	cfg := &LeaderboardServiceConfig{
		CommonConfig:          common,
		ListenAddr:            getString("LEADERBOARD_SERVICE_LISTEN_ADDR", ":8083"),
		MongoDBConnStr:        getString("MONGODB_CONN_STR", "mongodb://mongodb-service:27017"),
		MongoDBDatabase:       getString("MONGODB_DATABASE", "leaderboard"),
		MongoDBTeamCollection: getString("MONGODB_TEAM_COLLECTION", "teams"),
	}

	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from LEADERBOARD_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	if cfg.ListLimit, err = getInt("LEADERBOARD_LIST_LIMIT", 20); err != nil {
		return nil, err
	}
	if cfg.RankingLimit, err = getInt("LEADERBOARD_RANKING_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.ListLimit <= 0 || cfg.RankingLimit <= 0 {
		return nil, fmt.Errorf("LEADERBOARD_LIST_LIMIT and LEADERBOARD_RANKING_LIMIT must be positive (got %d, %d)", cfg.ListLimit, cfg.RankingLimit)
	}
	if cfg.ActivityRetention, err = getDuration("ACTIVITY_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = getDuration("ACTIVITY_PRUNE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	if teams := os.Getenv("DEFAULT_TEAMS"); teams != "" {
		for _, t := range strings.Split(teams, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.DefaultTeams = append(cfg.DefaultTeams, t)
			}
		}
	}

	return cfg, nil
}
