package configs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/n0rdy/qakka/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfigs struct {
	Env         string   `yaml:"env"`
	LocalRegion string   `yaml:"local_region"`
	Regions     []string `yaml:"regions"` // all regions known to the cluster, the local one included
	DataDir     string   `yaml:"data_dir"`
	LogLevel    string   `yaml:"log_level"`

	QueueDefaults QueueDefaults  `yaml:"queue_defaults"`
	Shards        ShardConfigs   `yaml:"shards"`
	Counters      CounterConfigs `yaml:"counters"`
	Cache         CacheConfigs   `yaml:"cache"`
	JobsIntervals JobsIntervals  `yaml:"jobs"`
	Metrics       MetricsConfigs `yaml:"metrics"`
	ServerConfig  ServerConfig   `yaml:"server"`
}

type QueueDefaults struct {
	HandlingTimeoutMs          int64 `yaml:"handling_timeout_ms"` // Lease duration applied when a queue doesn't set its own
	RetryCount                 int   `yaml:"retry_count"`         // Deliveries before a message is dead-lettered
	DefaultDelayMs             int64 `yaml:"default_delay_ms"`
	MaxMessageTtlMs            int64 `yaml:"max_message_ttl_ms"`
	MessageContentMaxSizeBytes int   `yaml:"message_content_max_size_bytes"`
	MaxGetBatchSize            int   `yaml:"max_get_batch_size"`
	LongPollDurationMs         int64 `yaml:"long_poll_duration_ms"` // Upper bound for how long a get may wait for messages
	LongPollTickMs             int64 `yaml:"long_poll_tick_ms"`
	ScanPageSize               int   `yaml:"scan_page_size"`
}

type ShardConfigs struct {
	MaxSize                   int64 `yaml:"max_size"`
	MaxAgeMs                  int64 `yaml:"max_age_ms"` // 0 disables age-based allocation
	AllocationCheckIntervalMs int64 `yaml:"allocation_check_interval_ms"`
	AllocationAdvanceTimeMs   int64 `yaml:"allocation_advance_time_ms"` // How far ahead of need a new shard is created
}

type CounterConfigs struct {
	FlushIntervalMs int64 `yaml:"flush_interval_ms"`
	MaxInMemory     int64 `yaml:"max_in_memory"` // Increments accumulated before a flush is triggered
	WriteTimeoutMs  int64 `yaml:"write_timeout_ms"`
}

type CacheConfigs struct {
	Enabled           bool  `yaml:"enabled"`
	Size              int   `yaml:"size"`
	RefreshIntervalMs int64 `yaml:"refresh_interval_ms"`
}

type JobsIntervals struct {
	TimeoutsMs                  int64 `yaml:"timeouts_ms"`
	QueueDepthMetricsMs         int64 `yaml:"queue_depth_metrics_ms"`
	DbOptimizationMs            int64 `yaml:"db_optimization_ms"`
	DbOptimizationMaxDurationMs int64 `yaml:"db_optimization_max_duration_ms"`
}

type MetricsConfigs struct {
	Enabled bool `yaml:"enabled"`
}

type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	Timeouts  ServerTimeouts  `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client token bucket in front of the API. 0 requests per second disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type ServerTimeouts struct {
	Handle     time.Duration `yaml:"handle"`
	Write      time.Duration `yaml:"write"`
	Read       time.Duration `yaml:"read"`
	ReadHeader time.Duration `yaml:"read_header"`
	Idle       time.Duration `yaml:"idle"`
}

func NewAppConfig() *AppConfigs {
	longPollDurationMs := int64(20 * 1000)

	return &AppConfigs{
		Env:         common.LocalEnv,
		LocalRegion: "us-east",
		Regions:     []string{"us-east"},
		LogLevel:    "info",
		QueueDefaults: QueueDefaults{
			HandlingTimeoutMs:          30 * 1000, // 30 seconds
			RetryCount:                 5,
			DefaultDelayMs:             0,
			MaxMessageTtlMs:            14 * 24 * 60 * 60 * 1000, // 14 days
			MessageContentMaxSizeBytes: 256 * 1024,               // 256 KB
			MaxGetBatchSize:            1000,
			LongPollDurationMs:         longPollDurationMs, // 20 seconds
			LongPollTickMs:             100,
			ScanPageSize:               100,
		},
		Shards: ShardConfigs{
			MaxSize:                   400_000,
			MaxAgeMs:                  0,
			AllocationCheckIntervalMs: 5 * 1000,  // 5 seconds
			AllocationAdvanceTimeMs:   30 * 1000, // 30 seconds
		},
		Counters: CounterConfigs{
			FlushIntervalMs: 1000,
			MaxInMemory:     10_000,
			WriteTimeoutMs:  5000,
		},
		Cache: CacheConfigs{
			Enabled:           false,
			Size:              1000,
			RefreshIntervalMs: 2000,
		},
		JobsIntervals: JobsIntervals{
			TimeoutsMs:                  1000,
			QueueDepthMetricsMs:         15 * 1000,
			DbOptimizationMs:            60 * 60 * 1000, // 1 hour
			DbOptimizationMaxDurationMs: 30 * 1000,      // 30 seconds
		},
		Metrics: MetricsConfigs{
			Enabled: true,
		},
		ServerConfig: ServerConfig{
			Addr: "localhost:8080",
			Timeouts: ServerTimeouts{
				Handle:     time.Duration(longPollDurationMs)*time.Millisecond + 10*time.Second, // polling + buffer
				Write:      time.Duration(longPollDurationMs)*time.Millisecond + 15*time.Second, // handle + write buffer
				Read:       time.Duration(longPollDurationMs)*time.Millisecond + 15*time.Second, // same as write
				ReadHeader: 10 * time.Second,
				Idle:       5 * time.Minute,
			},
		},
	}
}

// Load overlays the YAML file at path (if any) and env overrides on top of the defaults.
// A missing file is not an error. Variables from a .env file in the working directory
// are picked up too, without overriding the ones already set.
func Load(path string) (*AppConfigs, error) {
	// no .env is fine
	_ = godotenv.Load()

	cfg := NewAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfigs) {
	if v := os.Getenv("QAKKA_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("QAKKA_REGION"); v != "" {
		cfg.LocalRegion = v
	}
	if v := os.Getenv("QAKKA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("QAKKA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *AppConfigs) Validate() error {
	if !common.SupportedEnvs[c.Env] {
		return fmt.Errorf("env %q is not supported", c.Env)
	}
	if c.LocalRegion == "" {
		return errors.New("local_region must not be empty")
	}
	if !c.IsKnownRegion(c.LocalRegion) {
		// the local region is always known, even if the file forgot to list it
		c.Regions = append(c.Regions, c.LocalRegion)
	}
	if c.QueueDefaults.HandlingTimeoutMs <= 0 {
		return errors.New("queue_defaults.handling_timeout_ms must be positive")
	}
	if c.QueueDefaults.RetryCount < 0 {
		return errors.New("queue_defaults.retry_count must be >= 0")
	}
	if c.QueueDefaults.MaxMessageTtlMs <= 0 {
		return errors.New("queue_defaults.max_message_ttl_ms must be positive")
	}
	if c.QueueDefaults.MaxGetBatchSize < 1 {
		return errors.New("queue_defaults.max_get_batch_size must be at least 1")
	}
	if c.QueueDefaults.ScanPageSize < 1 {
		return errors.New("queue_defaults.scan_page_size must be at least 1")
	}
	if c.QueueDefaults.LongPollTickMs <= 0 {
		return errors.New("queue_defaults.long_poll_tick_ms must be positive")
	}
	if c.Shards.MaxSize < 1 {
		return errors.New("shards.max_size must be at least 1")
	}
	if c.Shards.AllocationCheckIntervalMs <= 0 {
		return errors.New("shards.allocation_check_interval_ms must be positive")
	}
	if c.Shards.AllocationAdvanceTimeMs < 0 {
		return errors.New("shards.allocation_advance_time_ms must be >= 0")
	}
	if c.Counters.FlushIntervalMs <= 0 || c.Counters.MaxInMemory < 1 || c.Counters.WriteTimeoutMs <= 0 {
		return errors.New("counters.flush_interval_ms, counters.max_in_memory and counters.write_timeout_ms must be positive")
	}
	if c.Cache.RefreshIntervalMs <= 0 {
		return errors.New("cache.refresh_interval_ms must be positive")
	}
	if c.Cache.Enabled && c.Cache.Size < 1 {
		return errors.New("cache.size must be positive when the cache is enabled")
	}
	if c.JobsIntervals.TimeoutsMs <= 0 || c.JobsIntervals.QueueDepthMetricsMs <= 0 {
		return errors.New("jobs.timeouts_ms and jobs.queue_depth_metrics_ms must be positive")
	}
	if c.JobsIntervals.DbOptimizationMs <= 0 || c.JobsIntervals.DbOptimizationMaxDurationMs <= 0 {
		return errors.New("jobs.db_optimization_ms and jobs.db_optimization_max_duration_ms must be positive")
	}
	if c.ServerConfig.RateLimit.RequestsPerSecond < 0 {
		return errors.New("server.rate_limit.requests_per_second must be >= 0")
	}
	if c.ServerConfig.RateLimit.RequestsPerSecond > 0 && c.ServerConfig.RateLimit.Burst < 1 {
		return errors.New("server.rate_limit.burst must be at least 1 when rate limiting is on")
	}
	return nil
}

func (c *AppConfigs) IsKnownRegion(region string) bool {
	for _, r := range c.Regions {
		if r == region {
			return true
		}
	}
	return false
}
