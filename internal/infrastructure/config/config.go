package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Server      ServerConfig    `mapstructure:"server"`
	Backend     BackendConfig   `mapstructure:"backend"`
	Recommend   RecommendConfig `mapstructure:"recommend"`
	Like        LikeConfig      `mapstructure:"like"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	DedupWindow time.Duration   `mapstructure:"dedup_window"`
	LogLevel    string          `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env     string `mapstructure:"env"`
	Debug   bool   `mapstructure:"debug"`
	Version string `mapstructure:"version"`
	Name    string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// BackendConfig 商店後端設定
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig 斷路器設定，每個後端來源各自一組
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// RecommendConfig 推薦設定
type RecommendConfig struct {
	DisplayCount int           `mapstructure:"display_count"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// LikeConfig 收藏狀態設定
type LikeConfig struct {
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	SeedConcurrency int           `mapstructure:"seed_concurrency"`
	MutationTimeout time.Duration `mapstructure:"mutation_timeout"`
	// IdleTTL 面板未被使用超過此時間即關閉
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig 工作階段儲存設定
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	RecentCap int           `mapstructure:"recent_cap"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// CacheConfig 推薦結果快取設定
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxSize         int           `mapstructure:"max_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// TracingConfig OpenTelemetry 追蹤設定；Enabled 控制是否匯出
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// .env 不存在時僅使用環境變數與預設值
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 綁定常用環境變量
	v.BindEnv("backend.base_url", "BACKEND_BASE_URL")
	v.BindEnv("backend.timeout", "BACKEND_TIMEOUT")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.enabled", "CACHE_ENABLED")
	v.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	v.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	v.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	v.BindEnv("dedup_window", "DEDUP_WINDOW")
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.endpoint", "TRACING_ENDPOINT")
	v.BindEnv("log_level", "LOG_LEVEL")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// setDefaults 設定預設值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.name", "storefront-personalization")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")

	// 後端設定，重試預設關閉：每個策略只打一次
	v.SetDefault("backend.base_url", "http://localhost:9000/api")
	v.SetDefault("backend.timeout", "3s")
	v.SetDefault("backend.retry_count", 0)
	v.SetDefault("backend.retry_wait", "200ms")
	v.SetDefault("backend.breaker.max_requests", 3)
	v.SetDefault("backend.breaker.interval", "60s")
	v.SetDefault("backend.breaker.timeout", "30s")
	v.SetDefault("backend.breaker.consecutive_failures", 5)

	v.SetDefault("recommend.display_count", 4)
	v.SetDefault("recommend.cache_ttl", "1m")

	v.SetDefault("like.workers", 4)
	v.SetDefault("like.queue_size", 256)
	v.SetDefault("like.seed_concurrency", 4)
	v.SetDefault("like.mutation_timeout", "5s")
	v.SetDefault("like.idle_ttl", "30m")
	v.SetDefault("like.sweep_interval", "1m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "storefront")
	v.SetDefault("redis.recent_cap", 20)
	v.SetDefault("redis.ttl", "720h")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.cleanup_interval", "5m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 300)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("dedup_window", "500ms")
	v.SetDefault("log_level", "info")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend base url is required")
	}
	if config.Backend.Timeout <= 0 {
		return fmt.Errorf("invalid backend timeout")
	}
	if config.Backend.RetryCount < 0 {
		return fmt.Errorf("invalid backend retry count")
	}

	if config.Recommend.DisplayCount <= 0 {
		return fmt.Errorf("invalid recommend display count")
	}

	if config.Like.Workers <= 0 {
		return fmt.Errorf("invalid like workers")
	}
	if config.Like.QueueSize <= 0 {
		return fmt.Errorf("invalid like queue size")
	}
	if config.Like.SeedConcurrency <= 0 {
		return fmt.Errorf("invalid like seed concurrency")
	}

	if config.Redis.RecentCap <= 0 {
		return fmt.Errorf("invalid redis recent cap")
	}

	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
		if config.Recommend.CacheTTL <= 0 {
			return fmt.Errorf("invalid recommend cache ttl")
		}
	}

	if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
		return fmt.Errorf("invalid tracing sample ratio")
	}
	if config.Tracing.Enabled && config.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	if config.Like.IdleTTL < 0 || config.Like.SweepInterval < 0 {
		return fmt.Errorf("invalid like idle sweep settings")
	}

	return nil
}
