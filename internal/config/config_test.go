package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every COACH_ variable the suite touches, so tests see
// defaults regardless of the machine they run on.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"COACH_STORE", "COACH_DB_HOST", "COACH_DB_PORT", "COACH_DB_USER",
		"COACH_DB_PASSWORD", "COACH_DB_NAME", "COACH_DB_SSLMODE", "COACH_DB_MAX_CONNS",
		"COACH_REDIS_ADDR", "COACH_REDIS_PASSWORD", "COACH_REDIS_DB",
		"COACH_SERVER_ADDR", "COACH_SERVER_READ_TIMEOUT", "COACH_SERVER_WRITE_TIMEOUT",
		"COACH_CORS_ORIGINS", "COACH_SERVER_RATE_RPS", "COACH_SERVER_RATE_BURST",
		"COACH_COMMIT_RETRIES", "COACH_HISTORY_TAIL", "COACH_SESSION_IDLE_TTL",
		"COACH_REAP_INTERVAL", "COACH_CONFLICT_SCAN_INTERVAL",
		"COACH_DYNAMICS_STEP_HIT", "COACH_DYNAMICS_STEP_MISS", "COACH_DYNAMICS_MAX_STEP",
		"COACH_SIGNAL_HIGH", "COACH_SIGNAL_LOW",
		"COACH_PHASE_PROBE_MIN_SEEKING", "COACH_PHASE_COMMIT_READY",
		"COACH_SCORING_EFFORT_DIVISOR",
		"COACH_CONFLICT_WEIGHT_SUM", "COACH_CONFLICT_MIN_TURNS",
		"COACH_CONFLICT_WARN_RATE", "COACH_CONFLICT_HIGH_RATE",
		"COACH_GENERATION_ENDPOINT", "COACH_GENERATION_TIMEOUT",
		"COACH_CATALOG_PATH",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 50.0, cfg.Server.RateLimitRPS)
	assert.Equal(t, 3, cfg.Engine.CommitRetries)
	assert.Equal(t, 12, cfg.Engine.HistoryTail)
	assert.Equal(t, 2*time.Hour, cfg.Engine.IdleTTL)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ConflictScanEvery)
	assert.Equal(t, 8, cfg.Dynamics.StepHit)
	assert.Equal(t, 60, cfg.Dynamics.SignalHigh)
	assert.Equal(t, 40, cfg.Dynamics.SignalLow)
	assert.Equal(t, 2, cfg.Phase.ProbeMinSeeking)
	assert.Equal(t, 70, cfg.Phase.CommitReadyThreshold)
	assert.Equal(t, 4, cfg.Scoring.EffortDivisor)
	assert.Equal(t, 100, cfg.Conflict.ExpectedWeightSum)
	assert.Equal(t, 50, cfg.Conflict.BroadPatternMinTurns)
	assert.Equal(t, 10*time.Second, cfg.Generation.Timeout)
	assert.Empty(t, cfg.Generation.Endpoint)
	assert.Empty(t, cfg.Catalog.Path)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COACH_STORE", "memory")
	t.Setenv("COACH_DB_PORT", "5433")
	t.Setenv("COACH_SERVER_ADDR", ":9090")
	t.Setenv("COACH_CORS_ORIGINS", "https://coach.example.com, https://admin.example.com")
	t.Setenv("COACH_SESSION_IDLE_TTL", "45m")
	t.Setenv("COACH_DYNAMICS_STEP_HIT", "10")
	t.Setenv("COACH_CONFLICT_WARN_RATE", "0.25")
	t.Setenv("COACH_GENERATION_ENDPOINT", "http://gen.internal:9000/v1/reply")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://coach.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 45*time.Minute, cfg.Engine.IdleTTL)
	assert.Equal(t, 10, cfg.Dynamics.StepHit)
	assert.Equal(t, 0.25, cfg.Conflict.BroadPatternWarnRate)
	assert.Equal(t, "http://gen.internal:9000/v1/reply", cfg.Generation.Endpoint)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unknown_store", "COACH_STORE", "sqlite", "COACH_STORE"},
		{"bad_db_port", "COACH_DB_PORT", "70000", "COACH_DB_PORT"},
		{"unparseable_int", "COACH_DB_PORT", "not-a-port", "COACH_DB_PORT"},
		{"zero_max_conns", "COACH_DB_MAX_CONNS", "0", "COACH_DB_MAX_CONNS"},
		{"negative_retries", "COACH_COMMIT_RETRIES", "-1", "COACH_COMMIT_RETRIES"},
		{"bad_duration", "COACH_SERVER_READ_TIMEOUT", "soon", "COACH_SERVER_READ_TIMEOUT"},
		{"zero_effort_divisor", "COACH_SCORING_EFFORT_DIVISOR", "0", "COACH_SCORING_EFFORT_DIVISOR"},
		{"warn_rate_out_of_range", "COACH_CONFLICT_WARN_RATE", "1.5", "COACH_CONFLICT_WARN_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("signal_thresholds_must_be_ordered", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACH_SIGNAL_HIGH", "40")
		t.Setenv("COACH_SIGNAL_LOW", "60")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "COACH_SIGNAL_LOW")
	})

	t.Run("high_rate_below_warn_rate", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACH_CONFLICT_WARN_RATE", "0.5")
		t.Setenv("COACH_CONFLICT_HIGH_RATE", "0.3")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "COACH_CONFLICT_HIGH_RATE")
	})
}

func TestDSN(t *testing.T) {
	t.Parallel()

	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "coach",
		Password: "s3cret",
		DBName:   "coach_prod",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5432 user=coach password=s3cret dbname=coach_prod sslmode=require",
		db.DSN())
}
