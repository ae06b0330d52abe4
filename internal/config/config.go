package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Server struct {
	Port              string `mapstructure:"port"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Vendor holds the settings shared by every REST vendor.
type Vendor struct {
	APIKey               string `mapstructure:"api_key"`
	BaseURL              string `mapstructure:"base_url"`
	MaxRequestsPerMinute int    `mapstructure:"max_requests_per_minute"`
	Burst                int    `mapstructure:"burst"`
	MinRequestIntervalMs int    `mapstructure:"min_request_interval_ms"`
	CacheTTLSeconds      int    `mapstructure:"cache_ttl_sec"`
}

type TwelveData struct {
	Vendor `mapstructure:",squash"`
	WSURL  string `mapstructure:"ws_url"`
}

type Batch struct {
	QuoteChunkSize    int `mapstructure:"quote_chunk_size"`
	VolumeChunkSize   int `mapstructure:"volume_chunk_size"`
	RefreshChunkSize  int `mapstructure:"refresh_chunk_size"`
	InterChunkDelayMs int `mapstructure:"inter_chunk_delay_ms"`
	RetryConcurrency  int `mapstructure:"retry_concurrency"`
	IncrementalWindow int `mapstructure:"incremental_window"`
}

type Stream struct {
	Enabled         bool `mapstructure:"enabled"`
	PollIntervalSec int  `mapstructure:"poll_interval_sec"`
	PollDelayMs     int  `mapstructure:"poll_delay_ms"`
	ReconnectSec    int  `mapstructure:"reconnect_sec"`
}

type Symbols struct {
	TablesFile string   `mapstructure:"tables_file"`
	Universe   []string `mapstructure:"universe"`
}

type Redis struct {
	Enabled        bool   `mapstructure:"enabled"`
	Addr           string `mapstructure:"addr"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	SnapshotTTLSec int    `mapstructure:"snapshot_ttl_sec"`
}

type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	Server       Server     `mapstructure:"server"`
	Log          Log        `mapstructure:"log"`
	TwelveData   TwelveData `mapstructure:"twelvedata"`
	FMP          Vendor     `mapstructure:"fmp"`
	AlphaVantage Vendor     `mapstructure:"alphavantage"`
	Batch        Batch      `mapstructure:"batch"`
	Stream       Stream     `mapstructure:"stream"`
	Symbols      Symbols    `mapstructure:"symbols"`
	Redis        Redis      `mapstructure:"redis"`
	Kafka        Kafka      `mapstructure:"kafka"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Log:    Log{Level: "info"},
		TwelveData: TwelveData{
			Vendor: Vendor{
				BaseURL:              "https://api.twelvedata.com",
				MaxRequestsPerMinute: 8,
				Burst:                8,
			},
			WSURL: "wss://ws.twelvedata.com/v1/quotes/price",
		},
		FMP: Vendor{
			BaseURL:              "https://financialmodelingprep.com/api/v3",
			MaxRequestsPerMinute: 250,
			Burst:                5,
		},
		AlphaVantage: Vendor{
			BaseURL:              "https://www.alphavantage.co",
			MaxRequestsPerMinute: 5,
			Burst:                1,
			CacheTTLSeconds:      3600,
		},
		Batch: Batch{
			QuoteChunkSize:    8,
			VolumeChunkSize:   8,
			RefreshChunkSize:  120,
			InterChunkDelayMs: 0,
			RetryConcurrency:  5,
			IncrementalWindow: 5,
		},
		Stream: Stream{
			Enabled:         true,
			PollIntervalSec: 60,
			PollDelayMs:     250,
			ReconnectSec:    5,
		},
		Redis: Redis{Addr: "localhost:6379", SnapshotTTLSec: 300},
		Kafka: Kafka{Brokers: []string{"localhost:9092"}, Topic: "market_quotes"},
	}
}

// keys lists every leaf so flat environment variables bind to nested fields.
var keys = []string{
	"server.port", "server.request_timeout_sec",
	"log.level", "log.development",
	"twelvedata.api_key", "twelvedata.base_url", "twelvedata.ws_url",
	"twelvedata.max_requests_per_minute", "twelvedata.burst", "twelvedata.min_request_interval_ms",
	"fmp.api_key", "fmp.base_url", "fmp.max_requests_per_minute", "fmp.burst", "fmp.min_request_interval_ms",
	"alphavantage.api_key", "alphavantage.base_url", "alphavantage.max_requests_per_minute",
	"alphavantage.burst", "alphavantage.min_request_interval_ms", "alphavantage.cache_ttl_sec",
	"batch.quote_chunk_size", "batch.volume_chunk_size", "batch.refresh_chunk_size",
	"batch.inter_chunk_delay_ms", "batch.retry_concurrency", "batch.incremental_window",
	"stream.enabled", "stream.poll_interval_sec", "stream.poll_delay_ms", "stream.reconnect_sec",
	"symbols.tables_file", "symbols.universe",
	"redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.snapshot_ttl_sec",
	"kafka.enabled", "kafka.brokers", "kafka.topic",
}

// Load reads YAML or JSON config from path. If path is empty or the file does
// not exist, it starts from defaults. A .env file and environment variables
// override file values (twelvedata.api_key -> TWELVEDATA_API_KEY).
func Load(path string) (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.json"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.request_timeout_sec", cfg.Server.RequestTimeoutSec)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.development", cfg.Log.Development)

	vendor := func(prefix string, vd Vendor) {
		v.SetDefault(prefix+".api_key", vd.APIKey)
		v.SetDefault(prefix+".base_url", vd.BaseURL)
		v.SetDefault(prefix+".max_requests_per_minute", vd.MaxRequestsPerMinute)
		v.SetDefault(prefix+".burst", vd.Burst)
		v.SetDefault(prefix+".min_request_interval_ms", vd.MinRequestIntervalMs)
		v.SetDefault(prefix+".cache_ttl_sec", vd.CacheTTLSeconds)
	}
	vendor("twelvedata", cfg.TwelveData.Vendor)
	v.SetDefault("twelvedata.ws_url", cfg.TwelveData.WSURL)
	vendor("fmp", cfg.FMP)
	vendor("alphavantage", cfg.AlphaVantage)

	v.SetDefault("batch.quote_chunk_size", cfg.Batch.QuoteChunkSize)
	v.SetDefault("batch.volume_chunk_size", cfg.Batch.VolumeChunkSize)
	v.SetDefault("batch.refresh_chunk_size", cfg.Batch.RefreshChunkSize)
	v.SetDefault("batch.inter_chunk_delay_ms", cfg.Batch.InterChunkDelayMs)
	v.SetDefault("batch.retry_concurrency", cfg.Batch.RetryConcurrency)
	v.SetDefault("batch.incremental_window", cfg.Batch.IncrementalWindow)

	v.SetDefault("stream.enabled", cfg.Stream.Enabled)
	v.SetDefault("stream.poll_interval_sec", cfg.Stream.PollIntervalSec)
	v.SetDefault("stream.poll_delay_ms", cfg.Stream.PollDelayMs)
	v.SetDefault("stream.reconnect_sec", cfg.Stream.ReconnectSec)

	v.SetDefault("symbols.tables_file", cfg.Symbols.TablesFile)
	v.SetDefault("symbols.universe", cfg.Symbols.Universe)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.snapshot_ttl_sec", cfg.Redis.SnapshotTTLSec)

	v.SetDefault("kafka.enabled", cfg.Kafka.Enabled)
	v.SetDefault("kafka.brokers", cfg.Kafka.Brokers)
	v.SetDefault("kafka.topic", cfg.Kafka.Topic)
}

// RequestTimeout is the per-request deadline of the HTTP facade.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// MinInterval converts the millisecond setting into a duration.
func (v Vendor) MinInterval() time.Duration {
	return time.Duration(v.MinRequestIntervalMs) * time.Millisecond
}

// CacheTTL converts the second setting into a duration.
func (v Vendor) CacheTTL() time.Duration {
	return time.Duration(v.CacheTTLSeconds) * time.Second
}

// NewLogger builds the process logger from the log section.
func NewLogger(l Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		level, err := zapcore.ParseLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", l.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
