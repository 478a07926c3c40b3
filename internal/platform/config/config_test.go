package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 10*time.Second, cfg.Takedown.CallTimeout)
	assert.Equal(t, 8, cfg.Takedown.Fanout)
	assert.Equal(t, 3, cfg.Consensus.Quorum)
	assert.Equal(t, 10*time.Minute, cfg.Consensus.SessionWindow)
	assert.Equal(t, 256, cfg.Queue.Capacity)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 30*time.Second, cfg.Monitor.ScanInterval)
	assert.InDelta(t, 0.7, cfg.Consensus.DeepfakeThreshold, 1e-9)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
postgres:
  dsn: postgres://localhost/mediaguard
kafka:
  brokers: [localhost:9092]
takedown:
  call_timeout: 3s
platforms:
  - id: twitter
    kind: twitter
    base_url: https://api.twitter.example
    token: secret
  - id: instagram
    kind: webform
    base_url: https://forms.instagram.example
validators:
  - id: validator-a
    public_key: AAAA
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost/mediaguard", cfg.Postgres.DSN)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Takedown.CallTimeout)
	require.Len(t, cfg.Platforms, 2)
	assert.Equal(t, "webform", cfg.Platforms[1].Kind)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Consensus.Quorum)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MEDIAGUARD_HTTP_ADDR":        ":7000",
		"MEDIAGUARD_KAFKA_BROKERS":    "a:9092, b:9092,",
		"MEDIAGUARD_CONSENSUS_QUORUM": "5",
		"MEDIAGUARD_PLATFORM_TIMEOUT": "2s",
		"MEDIAGUARD_REDIS_URL":        "redis://localhost:6379/0",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Consensus.Quorum)
	assert.Equal(t, 2*time.Second, cfg.Takedown.CallTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)

	env["MEDIAGUARD_CONSENSUS_QUORUM"] = "many"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"production with dev key", func(c *Config) { c.Server.Environment = "production" }},
		{"short sealing key", func(c *Config) { c.Evidence.SealingKey = "abcd" }},
		{"zero quorum", func(c *Config) { c.Consensus.Quorum = 0 }},
		{"threshold above one", func(c *Config) { c.Consensus.DeepfakeThreshold = 1.5 }},
		{"unknown platform kind", func(c *Config) {
			c.Platforms = []Platform{{ID: "x", Kind: "myspace", BaseURL: "https://x"}}
		}},
		{"duplicate platform", func(c *Config) {
			c.Platforms = []Platform{
				{ID: "x", Kind: "twitter", BaseURL: "https://x"},
				{ID: "x", Kind: "twitter", BaseURL: "https://x"},
			}
		}},
		{"validator without key", func(c *Config) { c.Validators = []Validator{{ID: "v"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSubmitTimeoutCoversFanout(t *testing.T) {
	platform := func(id string, timeout time.Duration) Platform {
		return Platform{ID: id, Kind: "webform", BaseURL: "https://" + id + ".example", Timeout: timeout}
	}
	tests := []struct {
		name      string
		fanout    int
		platforms []Platform
		want      time.Duration
	}{
		{name: "no platforms still allows one wave", fanout: 8, want: 10*time.Second + submitMargin},
		{name: "one wave", fanout: 8, platforms: []Platform{platform("a", 0), platform("b", 0)}, want: 10*time.Second + submitMargin},
		{name: "waves multiply", fanout: 2, platforms: []Platform{platform("a", 0), platform("b", 0), platform("c", 0)}, want: 20*time.Second + submitMargin},
		{name: "slowest platform sets the wave", fanout: 8, platforms: []Platform{platform("a", 45*time.Second)}, want: 45*time.Second + submitMargin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Takedown.Fanout = tt.fanout
			cfg.Platforms = tt.platforms
			got := cfg.SubmitTimeout()
			assert.Equal(t, tt.want, got)
			assert.Greater(t, got, cfg.Takedown.CallTimeout)
		})
	}
}
