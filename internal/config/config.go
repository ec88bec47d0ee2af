package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a simulation run.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Platform   PlatformConfig   `yaml:"platform"`
	Inference  InferenceConfig  `yaml:"inference"`
	Recsys     RecsysConfig     `yaml:"recsys"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// SimulationConfig controls the tick scheduler and clock.
type SimulationConfig struct {
	// Ticks is the number of timesteps to run before shutting down.
	Ticks int `yaml:"ticks"`
	// MinutesPerTick maps one tick to this many minutes of story time.
	MinutesPerTick float64 `yaml:"minutes_per_tick"`
	// StartTime is the story time of tick 0, RFC 3339. Empty = 13:00 UTC today.
	StartTime string `yaml:"start_time"`
	// Seed for activation sampling. 0 = derive from wall clock.
	Seed int64 `yaml:"seed"`
	// AgentsFile is the YAML roster of agent profiles to run.
	AgentsFile string `yaml:"agents_file"`
}

// PlatformConfig controls the action dispatcher and its store.
type PlatformConfig struct {
	DBPath string `yaml:"db_path"`
	// QueueDepth bounds the dispatcher's admission queue.
	QueueDepth int `yaml:"queue_depth"`
	// RefreshRecPostCount is the number of recommended posts per refresh.
	RefreshRecPostCount int `yaml:"refresh_rec_post_count"`
	// MaxRecPostLen caps the comments attached to each refreshed post.
	MaxRecPostLen int `yaml:"max_rec_post_len"`
	// FollowingPostCount is the number of followee posts per refresh.
	FollowingPostCount int `yaml:"following_post_count"`
}

// InferenceConfig controls the inference router and its backends.
type InferenceConfig struct {
	QueueDepth int `yaml:"queue_depth"`
	// RetryLimit bounds per-turn resubmissions on malformed output.
	RetryLimit int             `yaml:"retry_limit"`
	Backends   []BackendConfig `yaml:"backends"`
}

// BackendConfig describes one generation backend.
type BackendConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	// Capacity is the number of concurrent requests the backend accepts.
	Capacity int `yaml:"capacity"`
	// RPM paces requests to the backend. 0 = unpaced.
	RPM int `yaml:"rpm"`
	// TimeoutSec bounds a single generation round-trip.
	TimeoutSec int `yaml:"timeout_sec"`
}

// RecsysConfig controls recommendation scoring.
type RecsysConfig struct {
	// Workers bounds the scoring worker pool. 0 = GOMAXPROCS.
	Workers int `yaml:"workers"`
	// TableSize is the number of posts kept per user in the rec table.
	TableSize int `yaml:"table_size"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty = disabled.
	Listen string `yaml:"listen"`
}

// Default returns a Config with the defaults used by the reference runs.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Ticks:          3,
			MinutesPerTick: 3,
		},
		Platform: PlatformConfig{
			DBPath:              "agora.db",
			QueueDepth:          1024,
			RefreshRecPostCount: 2,
			MaxRecPostLen:       2,
			FollowingPostCount:  3,
		},
		Inference: InferenceConfig{
			QueueDepth: 1024,
			RetryLimit: 5,
		},
		Recsys: RecsysConfig{
			TableSize: 50,
		},
	}
}

// Load reads config from a YAML file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("AGORA_DB_PATH", &c.Platform.DBPath)
	envStr("AGORA_AGENTS_FILE", &c.Simulation.AgentsFile)
	envStr("AGORA_METRICS_LISTEN", &c.Metrics.Listen)
	envInt("AGORA_TICKS", &c.Simulation.Ticks)
	envInt("AGORA_RETRY_LIMIT", &c.Inference.RetryLimit)

	if v := os.Getenv("AGORA_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Simulation.Seed = n
		}
	}
	// Single-backend shorthand for local runs.
	if url := os.Getenv("AGORA_BACKEND_URL"); url != "" {
		c.Inference.Backends = []BackendConfig{{
			Name:     "env",
			URL:      url,
			Model:    os.Getenv("AGORA_BACKEND_MODEL"),
			Capacity: 4,
		}}
	}
}

// Validate rejects configs the simulation cannot run with.
func (c *Config) Validate() error {
	if c.Simulation.Ticks < 1 {
		return fmt.Errorf("simulation.ticks must be >= 1, got %d", c.Simulation.Ticks)
	}
	if c.Simulation.MinutesPerTick <= 0 {
		return fmt.Errorf("simulation.minutes_per_tick must be > 0, got %v", c.Simulation.MinutesPerTick)
	}
	if c.Platform.QueueDepth < 1 || c.Inference.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be >= 1")
	}
	if c.Inference.RetryLimit < 1 {
		return fmt.Errorf("inference.retry_limit must be >= 1, got %d", c.Inference.RetryLimit)
	}
	for i, b := range c.Inference.Backends {
		if b.URL == "" {
			return fmt.Errorf("inference.backends[%d]: url is required", i)
		}
		if b.Capacity < 1 {
			return fmt.Errorf("inference.backends[%d]: capacity must be >= 1", i)
		}
	}
	return nil
}

// StartTimeOrDefault parses StartTime, defaulting to 13:00 UTC today.
// The 1 PM default matches the reference dataset's fallback start hour.
func (c *SimulationConfig) StartTimeOrDefault() (time.Time, error) {
	if c.StartTime == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 13, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, c.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse simulation.start_time: %w", err)
	}
	return t, nil
}
