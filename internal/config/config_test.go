package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Platform.QueueDepth != 1024 {
		t.Errorf("queue depth = %d, want 1024", cfg.Platform.QueueDepth)
	}
	if cfg.Inference.RetryLimit != 5 {
		t.Errorf("retry limit = %d, want 5", cfg.Inference.RetryLimit)
	}
	if cfg.Platform.RefreshRecPostCount != 2 || cfg.Platform.MaxRecPostLen != 2 || cfg.Platform.FollowingPostCount != 3 {
		t.Errorf("refresh bounds = %d/%d/%d, want 2/2/3",
			cfg.Platform.RefreshRecPostCount, cfg.Platform.MaxRecPostLen, cfg.Platform.FollowingPostCount)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.yaml")
	body := `
simulation:
  ticks: 10
  minutes_per_tick: 5
platform:
  db_path: from-file.db
inference:
  backends:
    - name: local
      url: http://localhost:8000/v1
      capacity: 8
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGORA_DB_PATH", "from-env.db")
	t.Setenv("AGORA_TICKS", "20")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Platform.DBPath != "from-env.db" {
		t.Errorf("db path = %q, env must win over file", cfg.Platform.DBPath)
	}
	if cfg.Simulation.Ticks != 20 {
		t.Errorf("ticks = %d, want env override 20", cfg.Simulation.Ticks)
	}
	if cfg.Simulation.MinutesPerTick != 5 {
		t.Errorf("minutes per tick = %v, want file value 5", cfg.Simulation.MinutesPerTick)
	}
	if len(cfg.Inference.Backends) != 1 || cfg.Inference.Backends[0].Capacity != 8 {
		t.Errorf("backends = %+v", cfg.Inference.Backends)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ticks", func(c *Config) { c.Simulation.Ticks = 0 }},
		{"zero scale", func(c *Config) { c.Simulation.MinutesPerTick = 0 }},
		{"zero queue", func(c *Config) { c.Platform.QueueDepth = 0 }},
		{"zero retry", func(c *Config) { c.Inference.RetryLimit = 0 }},
		{"backend without url", func(c *Config) {
			c.Inference.Backends = []BackendConfig{{Capacity: 1}}
		}},
		{"backend without capacity", func(c *Config) {
			c.Inference.Backends = []BackendConfig{{URL: "http://x"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("bad config accepted")
			}
		})
	}
}

func TestStartTimeOrDefault(t *testing.T) {
	var sc SimulationConfig
	got, err := sc.StartTimeOrDefault()
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 13 {
		t.Errorf("default start hour = %d, want 13", got.Hour())
	}

	sc.StartTime = "2024-05-01T09:30:00Z"
	got, err = sc.StartTimeOrDefault()
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 9 || got.Minute() != 30 {
		t.Errorf("parsed start = %v", got)
	}

	sc.StartTime = "yesterday"
	if _, err := sc.StartTimeOrDefault(); err == nil {
		t.Error("bad start time accepted")
	}
}
