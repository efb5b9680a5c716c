// Package config loads watcher settings from flags, POOLWATCH_* env vars
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"solana-pool-watch/internal/solana"
)

// Sink names accepted by the sinks key.
const (
	SinkTable      = "table"
	SinkJSONL      = "jsonl"
	SinkNATS       = "nats"
	SinkPostgres   = "postgres"
	SinkClickHouse = "clickhouse"
)

// Dedupe backends.
const (
	DedupeMemory = "memory"
	DedupeRedis  = "redis"
)

// DefaultProgram is Raydium AMM v4.
const DefaultProgram = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	WSEndpoint  string
	RPCEndpoint string
	Program     string
	Commitment  string

	Concurrency    int
	ResolveTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	SkipFailed     bool
	RequireLogs    bool

	Dedupe         string
	DedupeCapacity int
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	Sinks         []string
	Filter        string
	AsyncBuffer   int
	JSONLPath     string
	NATSURL       string
	NATSStream    string
	NATSSubject   string
	PostgresDSN   string
	ClickHouseDSN string

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("ws-endpoint", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("rpc-endpoint", "https://api.mainnet-beta.solana.com")
	v.SetDefault("program", DefaultProgram)
	v.SetDefault("commitment", string(solana.CommitmentFinalized))
	v.SetDefault("concurrency", 1)
	v.SetDefault("resolve-timeout", 30*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("skip-failed", true)
	v.SetDefault("require-logs", false)
	v.SetDefault("dedupe", DedupeMemory)
	v.SetDefault("dedupe-capacity", 0)
	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("redis-prefix", "poolwatch:dedupe:")
	v.SetDefault("sinks", []string{SinkTable})
	v.SetDefault("async-buffer", 0)
	v.SetDefault("jsonl-path", "./data/pools.jsonl")
	v.SetDefault("nats-url", "nats://localhost:4222")
	v.SetDefault("nats-stream", "POOLS")
	v.SetDefault("nats-subject", "pools")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("pool-watch")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		WSEndpoint:     v.GetString("ws-endpoint"),
		RPCEndpoint:    v.GetString("rpc-endpoint"),
		Program:        v.GetString("program"),
		Commitment:     v.GetString("commitment"),
		Concurrency:    v.GetInt("concurrency"),
		ResolveTimeout: v.GetDuration("resolve-timeout"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		SkipFailed:     v.GetBool("skip-failed"),
		RequireLogs:    v.GetBool("require-logs"),
		Dedupe:         strings.ToLower(v.GetString("dedupe")),
		DedupeCapacity: v.GetInt("dedupe-capacity"),
		RedisAddr:      v.GetString("redis-addr"),
		RedisPassword:  v.GetString("redis-password"),
		RedisDB:        v.GetInt("redis-db"),
		RedisPrefix:    v.GetString("redis-prefix"),
		Sinks:          getStringSlice(v, "sinks"),
		Filter:         v.GetString("filter"),
		AsyncBuffer:    v.GetInt("async-buffer"),
		JSONLPath:      v.GetString("jsonl-path"),
		NATSURL:        v.GetString("nats-url"),
		NATSStream:     v.GetString("nats-stream"),
		NATSSubject:    v.GetString("nats-subject"),
		PostgresDSN:    v.GetString("postgres-dsn"),
		ClickHouseDSN:  v.GetString("clickhouse-dsn"),
		MetricsAddr:    v.GetString("metrics-addr"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if err := checkURL(c.WSEndpoint, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("ws-endpoint: %w", err))
	}
	if err := checkURL(c.RPCEndpoint, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("rpc-endpoint: %w", err))
	}
	if _, err := solanago.PublicKeyFromBase58(c.Program); err != nil {
		errs = append(errs, fmt.Errorf("program: %w", err))
	}
	if _, err := solana.ParseCommitment(c.Commitment); err != nil {
		errs = append(errs, fmt.Errorf("commitment: %w", err))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ResolveTimeout < 0 || c.RetryBackoff < 0 {
		errs = append(errs, errors.New("resolve-timeout and retry-backoff must not be negative"))
	}

	switch c.Dedupe {
	case DedupeMemory:
		if c.DedupeCapacity < 0 {
			errs = append(errs, fmt.Errorf("dedupe-capacity must not be negative, got %d", c.DedupeCapacity))
		}
	case DedupeRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis-addr is required for redis dedupe"))
		}
	default:
		errs = append(errs, fmt.Errorf("dedupe must be %q or %q, got %q", DedupeMemory, DedupeRedis, c.Dedupe))
	}

	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("at least one sink is required"))
	}
	seen := make(map[string]bool)
	for _, sink := range c.Sinks {
		if seen[sink] {
			errs = append(errs, fmt.Errorf("sink %q listed twice", sink))
			continue
		}
		seen[sink] = true

		switch sink {
		case SinkTable:
		case SinkJSONL:
			if c.JSONLPath == "" {
				errs = append(errs, errors.New("jsonl-path is required for the jsonl sink"))
			}
		case SinkNATS:
			if c.NATSURL == "" {
				errs = append(errs, errors.New("nats-url is required for the nats sink"))
			}
		case SinkPostgres:
			if c.PostgresDSN == "" {
				errs = append(errs, errors.New("postgres-dsn is required for the postgres sink"))
			}
		case SinkClickHouse:
			if c.ClickHouseDSN == "" {
				errs = append(errs, errors.New("clickhouse-dsn is required for the clickhouse sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", sink))
		}
	}

	if c.AsyncBuffer < 0 {
		errs = append(errs, fmt.Errorf("async-buffer must not be negative, got %d", c.AsyncBuffer))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v, got %q", schemes, u.Scheme)
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return cleanStrings(strings.Split(typed, ","))
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
