package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store      string // "postgres" or "memory"
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Engine     EngineConfig
	Dynamics   DynamicsConfig
	Phase      PhaseConfig
	Scoring    ScoringConfig
	Conflict   ConflictConfig
	Generation GenerationConfig
	Catalog    CatalogConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// EngineConfig holds the turn-pipeline tunables.
type EngineConfig struct {
	CommitRetries     int
	HistoryTail       int
	IdleTTL           time.Duration
	ReapInterval      time.Duration
	ConflictScanEvery time.Duration
}

// DynamicsConfig holds the customer-disposition update rules.
type DynamicsConfig struct {
	StepHit    int
	StepMiss   int
	MaxStep    int
	SignalHigh int
	SignalLow  int
}

// PhaseConfig holds the phase-machine transition thresholds.
type PhaseConfig struct {
	ProbeMinSeeking      int
	CommitReadyThreshold int
}

// ScoringConfig holds the scoring tunables.
type ScoringConfig struct {
	EffortDivisor int
}

// ConflictConfig holds the conflict-reporter thresholds.
type ConflictConfig struct {
	ExpectedWeightSum    int
	BroadPatternMinTurns int
	BroadPatternWarnRate float64
	BroadPatternHighRate float64
}

// GenerationConfig holds the text-generation collaborator settings.
type GenerationConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// CatalogConfig holds the technique-catalog source settings.
type CatalogConfig struct {
	// Path overrides the embedded catalog, for staging a new catalog
	// without a rebuild. Empty means use the embedded one.
	Path string
}

// Load reads configuration from environment variables. Defaults are safe
// for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("COACH_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("COACH_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("COACH_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("COACH_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("COACH_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateRPS, err := getEnvFloat("COACH_SERVER_RATE_RPS", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("COACH_SERVER_RATE_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	commitRetries, err := getEnvInt("COACH_COMMIT_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	historyTail, err := getEnvInt("COACH_HISTORY_TAIL", 12)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	idleTTL, err := getEnvDuration("COACH_SESSION_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reapInterval, err := getEnvDuration("COACH_REAP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	scanEvery, err := getEnvDuration("COACH_CONFLICT_SCAN_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	stepHit, err := getEnvInt("COACH_DYNAMICS_STEP_HIT", 8)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	stepMiss, err := getEnvInt("COACH_DYNAMICS_STEP_MISS", 6)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxStep, err := getEnvInt("COACH_DYNAMICS_MAX_STEP", 12)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	signalHigh, err := getEnvInt("COACH_SIGNAL_HIGH", 60)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	signalLow, err := getEnvInt("COACH_SIGNAL_LOW", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	probeMin, err := getEnvInt("COACH_PHASE_PROBE_MIN_SEEKING", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	commitReady, err := getEnvInt("COACH_PHASE_COMMIT_READY", 70)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	effortDivisor, err := getEnvInt("COACH_SCORING_EFFORT_DIVISOR", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	weightSum, err := getEnvInt("COACH_CONFLICT_WEIGHT_SUM", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	minTurns, err := getEnvInt("COACH_CONFLICT_MIN_TURNS", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	warnRate, err := getEnvFloat("COACH_CONFLICT_WARN_RATE", 0.40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	highRate, err := getEnvFloat("COACH_CONFLICT_HIGH_RATE", 0.60)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	genTimeout, err := getEnvDuration("COACH_GENERATION_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Store: getEnv("COACH_STORE", "postgres"),
		Database: DatabaseConfig{
			Host:     getEnv("COACH_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("COACH_DB_USER", "coach"),
			Password: getEnv("COACH_DB_PASSWORD", ""),
			DBName:   getEnv("COACH_DB_NAME", "coach_dev"),
			SSLMode:  getEnv("COACH_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("COACH_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("COACH_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:           getEnv("COACH_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    getEnvList("COACH_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimitRPS:   rateRPS,
			RateLimitBurst: rateBurst,
		},
		Engine: EngineConfig{
			CommitRetries:     commitRetries,
			HistoryTail:       historyTail,
			IdleTTL:           idleTTL,
			ReapInterval:      reapInterval,
			ConflictScanEvery: scanEvery,
		},
		Dynamics: DynamicsConfig{
			StepHit:    stepHit,
			StepMiss:   stepMiss,
			MaxStep:    maxStep,
			SignalHigh: signalHigh,
			SignalLow:  signalLow,
		},
		Phase: PhaseConfig{
			ProbeMinSeeking:      probeMin,
			CommitReadyThreshold: commitReady,
		},
		Scoring: ScoringConfig{
			EffortDivisor: effortDivisor,
		},
		Conflict: ConflictConfig{
			ExpectedWeightSum:    weightSum,
			BroadPatternMinTurns: minTurns,
			BroadPatternWarnRate: warnRate,
			BroadPatternHighRate: highRate,
		},
		Generation: GenerationConfig{
			Endpoint: getEnv("COACH_GENERATION_ENDPOINT", ""),
			Timeout:  genTimeout,
		},
		Catalog: CatalogConfig{
			Path: getEnv("COACH_CATALOG_PATH", ""),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("COACH_STORE must be 'postgres' or 'memory', got %q", c.Store)
	}

	if c.Database.SSLMode == "disable" && c.Store == "postgres" {
		log.Warn().Msg("COACH_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("COACH_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("COACH_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("COACH_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("COACH_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Engine.CommitRetries < 0 {
		return fmt.Errorf("COACH_COMMIT_RETRIES must be >= 0, got %d", c.Engine.CommitRetries)
	}
	if c.Dynamics.MaxStep < 1 {
		return fmt.Errorf("COACH_DYNAMICS_MAX_STEP must be >= 1, got %d", c.Dynamics.MaxStep)
	}
	if c.Dynamics.SignalLow >= c.Dynamics.SignalHigh {
		return fmt.Errorf("COACH_SIGNAL_LOW (%d) must be below COACH_SIGNAL_HIGH (%d)",
			c.Dynamics.SignalLow, c.Dynamics.SignalHigh)
	}
	if c.Scoring.EffortDivisor < 1 {
		return fmt.Errorf("COACH_SCORING_EFFORT_DIVISOR must be >= 1, got %d", c.Scoring.EffortDivisor)
	}
	if c.Conflict.BroadPatternWarnRate <= 0 || c.Conflict.BroadPatternWarnRate > 1 {
		return fmt.Errorf("COACH_CONFLICT_WARN_RATE must be in (0,1], got %g", c.Conflict.BroadPatternWarnRate)
	}
	if c.Conflict.BroadPatternHighRate < c.Conflict.BroadPatternWarnRate {
		return fmt.Errorf("COACH_CONFLICT_HIGH_RATE (%g) must be >= COACH_CONFLICT_WARN_RATE (%g)",
			c.Conflict.BroadPatternHighRate, c.Conflict.BroadPatternWarnRate)
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("COACH_GENERATION_TIMEOUT must be positive, got %s", c.Generation.Timeout)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
