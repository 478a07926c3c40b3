// Package config loads service configuration from an optional YAML file and
// MEDIAGUARD_* environment overrides.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server captures HTTP and gRPC server level configuration.
type Server struct {
	Addr        string `yaml:"addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// IsProduction reports whether strict settings apply.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers"`
	ClientID      string   `yaml:"client_id"`
	LedgerTopic   string   `yaml:"ledger_topic"`
	IntakeTopic   string   `yaml:"intake_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
	Partitions    int32    `yaml:"partitions"`
}

type LevelDB struct {
	Path string `yaml:"path"`
}

type Evidence struct {
	// SealingKey is a 32-byte hex key for evidence backups.
	SealingKey string `yaml:"sealing_key"`
}

type Oracle struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Platform configures one hosting platform adapter.
type Platform struct {
	ID      string        `yaml:"id"`
	Kind    string        `yaml:"kind"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validator is a peer validator and its base64 ed25519 public key.
type Validator struct {
	ID        string `yaml:"id"`
	PublicKey string `yaml:"public_key"`
}

type Takedown struct {
	CallTimeout      time.Duration `yaml:"call_timeout"`
	Fanout           int           `yaml:"fanout"`
	FinalizeInterval time.Duration `yaml:"finalize_interval"`
}

// SubmitTimeout is how long a takedown submission may take: every wave of
// the platform fan-out waits up to the slowest configured call timeout.
func (c Config) SubmitTimeout() time.Duration {
	fanout := c.Takedown.Fanout
	if fanout <= 0 {
		fanout = 1
	}
	slowest := c.Takedown.CallTimeout
	for _, p := range c.Platforms {
		slowest = max(slowest, p.Timeout)
	}
	waves := max(1, (len(c.Platforms)+fanout-1)/fanout)
	return time.Duration(waves)*slowest + submitMargin
}

const submitMargin = 5 * time.Second

type Consensus struct {
	Quorum            int           `yaml:"quorum"`
	SessionWindow     time.Duration `yaml:"session_window"`
	DeepfakeThreshold float64       `yaml:"deepfake_threshold"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

type Queue struct {
	Capacity int `yaml:"capacity"`
	Workers  int `yaml:"workers"`
}

type Monitor struct {
	Enabled      bool          `yaml:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

type Config struct {
	Server     Server      `yaml:"server"`
	Auth       Auth        `yaml:"auth"`
	Postgres   Postgres    `yaml:"postgres"`
	Redis      RedisConfig `yaml:"redis"`
	Kafka      Kafka       `yaml:"kafka"`
	LevelDB    LevelDB     `yaml:"leveldb"`
	Evidence   Evidence    `yaml:"evidence"`
	Oracle     Oracle      `yaml:"oracle"`
	Platforms  []Platform  `yaml:"platforms"`
	Validators []Validator `yaml:"validators"`
	Takedown   Takedown    `yaml:"takedown"`
	Consensus  Consensus   `yaml:"consensus"`
	Queue      Queue       `yaml:"queue"`
	Monitor    Monitor     `yaml:"monitor"`
}

// Default returns the development configuration: every backing store is
// in memory and no platform is configured.
func Default() Config {
	return Config{
		Server: Server{
			Addr:        ":8080",
			GRPCAddr:    ":9090",
			Environment: "development",
			LogLevel:    "info",
		},
		Auth: Auth{
			// Development only; production requires MEDIAGUARD_JWT_SIGNING_KEY.
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "mediaguard",
			Audience:      "mediaguard-api",
		},
		Postgres: Postgres{MaxConns: 10},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			ClientID:      "mediaguard",
			LedgerTopic:   "mediaguard.ledger",
			IntakeTopic:   "mediaguard.consensus.intake",
			ConsumerGroup: "mediaguard-consensus",
			Partitions:    3,
		},
		Oracle:    Oracle{Timeout: 5 * time.Second},
		Takedown:  Takedown{CallTimeout: 10 * time.Second, Fanout: 8, FinalizeInterval: time.Minute},
		Consensus: Consensus{Quorum: 3, SessionWindow: 10 * time.Minute, DeepfakeThreshold: 0.7, SweepInterval: 30 * time.Second},
		Queue:     Queue{Capacity: 256, Workers: 4},
		Monitor:   Monitor{Enabled: true, ScanInterval: 30 * time.Second},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MEDIAGUARD_HTTP_ADDR", &cfg.Server.Addr)
	str("MEDIAGUARD_GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("MEDIAGUARD_ENV", &cfg.Server.Environment)
	str("MEDIAGUARD_LOG_LEVEL", &cfg.Server.LogLevel)
	str("MEDIAGUARD_JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("MEDIAGUARD_POSTGRES_DSN", &cfg.Postgres.DSN)
	str("MEDIAGUARD_REDIS_URL", &cfg.Redis.URL)
	str("MEDIAGUARD_LEVELDB_PATH", &cfg.LevelDB.Path)
	str("MEDIAGUARD_EVIDENCE_KEY", &cfg.Evidence.SealingKey)
	str("MEDIAGUARD_ORACLE_URL", &cfg.Oracle.URL)
	if v, ok := lookup("MEDIAGUARD_KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("MEDIAGUARD_CONSENSUS_QUORUM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDIAGUARD_CONSENSUS_QUORUM: %w", err)
		}
		cfg.Consensus.Quorum = n
	}
	if v, ok := lookup("MEDIAGUARD_PLATFORM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEDIAGUARD_PLATFORM_TIMEOUT: %w", err)
		}
		cfg.Takedown.CallTimeout = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var platformKinds = map[string]bool{"twitter": true, "youtube": true, "webform": true}

// Validate checks the settings the process cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.IsProduction() && c.Auth.JWTSigningKey == Default().Auth.JWTSigningKey {
		errs = append(errs, errors.New("auth.jwt_signing_key must be set in production"))
	}
	if c.Evidence.SealingKey != "" {
		if raw, err := hex.DecodeString(c.Evidence.SealingKey); err != nil || len(raw) != 32 {
			errs = append(errs, errors.New("evidence.sealing_key must be 32 bytes of hex"))
		}
	}
	if c.Consensus.Quorum <= 0 {
		errs = append(errs, errors.New("consensus.quorum must be positive"))
	}
	if c.Consensus.DeepfakeThreshold < 0 || c.Consensus.DeepfakeThreshold > 1 {
		errs = append(errs, errors.New("consensus.deepfake_threshold must be within [0,1]"))
	}
	if c.Takedown.CallTimeout <= 0 {
		errs = append(errs, errors.New("takedown.call_timeout must be positive"))
	}
	if c.Queue.Capacity <= 0 || c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue.capacity and queue.workers must be positive"))
	}
	seen := make(map[string]bool, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			errs = append(errs, errors.New("platforms: id is required"))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("platforms: duplicate id %q", p.ID))
		}
		seen[p.ID] = true
		if !platformKinds[p.Kind] {
			errs = append(errs, fmt.Errorf("platforms: %q has unknown kind %q", p.ID, p.Kind))
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("platforms: %q needs base_url", p.ID))
		}
	}
	for _, v := range c.Validators {
		if v.ID == "" || v.PublicKey == "" {
			errs = append(errs, errors.New("validators: id and public_key are required"))
		}
	}
	return errors.Join(errs...)
}
