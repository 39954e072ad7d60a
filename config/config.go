package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Application / HTTP surface
	App AppConfig `mapstructure:"app"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Fraud      FraudConfig      `mapstructure:"fraud"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Commission CommissionConfig `mapstructure:"commission"`
}

type AppConfig struct {
	Env           string   `mapstructure:"env"`
	LogLevel      string   `mapstructure:"log_level"`
	HTTPAddr      string   `mapstructure:"http_addr"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
	CookieSecret  string   `mapstructure:"cookie_secret"`
	SecureCookies bool     `mapstructure:"secure_cookies"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
	// ProxyHeader carries the client address (e.g. X-Forwarded-For). It is
	// only honoured for peers listed in TrustedProxies (IPs or CIDRs).
	ProxyHeader    string   `mapstructure:"proxy_header"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// IsProduction reports whether the service runs with production settings.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

type PostgresConfig struct {
	Host              string        `mapstructure:"host"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	Port              int           `mapstructure:"port"`
	SSLMode           string        `mapstructure:"sslmode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisConfig timeouts bound every command issued on the click and
// conversion paths.
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type NATSConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

// TrackingConfig drives link issuance, click recording and attribution.
type TrackingConfig struct {
	LinkRetention            time.Duration `mapstructure:"link_retention"`
	DefaultAttributionWindow time.Duration `mapstructure:"default_attribution_window"`
	MaxAttributionWindow     time.Duration `mapstructure:"max_attribution_window"`
	CookieMaxAge             time.Duration `mapstructure:"cookie_max_age"`
	PublishTimeout           time.Duration `mapstructure:"publish_timeout"`
	LookupTimeout            time.Duration `mapstructure:"lookup_timeout"`
}

// FraudConfig holds heuristic thresholds and windows for the fraud detector.
type FraudConfig struct {
	ClickVelocityWindow     time.Duration `mapstructure:"click_velocity_window"`
	ClickVelocityLimit      int64         `mapstructure:"click_velocity_limit"`
	AffiliateHoppingWindow  time.Duration `mapstructure:"affiliate_hopping_window"`
	AffiliateHoppingLimit   int64         `mapstructure:"affiliate_hopping_limit"`
	ConversionWindow        time.Duration `mapstructure:"conversion_window"`
	ConversionLimit         int64         `mapstructure:"conversion_limit"`
	OrderDedupWindow        time.Duration `mapstructure:"order_dedup_window"`
	ValueBaselineMinSamples int64         `mapstructure:"value_baseline_min_samples"`
	ValueStdDevs            float64       `mapstructure:"value_std_devs"`
	FlagThreshold           int           `mapstructure:"flag_threshold"`
	BlockThreshold          int           `mapstructure:"block_threshold"`
	BurstThreshold          int64         `mapstructure:"burst_threshold"`
	SuspiciousLogSize       int64         `mapstructure:"suspicious_log_size"`
	ReferrerBlocklist       []string      `mapstructure:"referrer_blocklist"`
	ReferrerBlocklistFPRate float64       `mapstructure:"referrer_blocklist_fp_rate"`
}

// PipelineConfig controls the broker publisher, retry sweep and consumers.
type PipelineConfig struct {
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	RetryBatch        int64         `mapstructure:"retry_batch"`
	RetryRate         float64       `mapstructure:"retry_rate"`
	MaxRetryEntries   int64         `mapstructure:"max_retry_entries"`
	FetchBatch        int           `mapstructure:"fetch_batch"`
	FetchWait         time.Duration `mapstructure:"fetch_wait"`
	ProcessedEventTTL time.Duration `mapstructure:"processed_event_ttl"`
	SeriesRetention   time.Duration `mapstructure:"series_retention"`
}

type CommissionConfig struct {
	SettlementInterval time.Duration `mapstructure:"settlement_interval"`
	SettlementBatch    int           `mapstructure:"settlement_batch"`
}

// devCookieSecret signs tracking cookies outside production when no secret is configured.
const devCookieSecret = "powertrack-development-only"

// Default returns a configuration populated with production-safe defaults.
func Default() Config {
	return Config{
		App: AppConfig{
			Env:           "development",
			LogLevel:      "info",
			HTTPAddr:      ":8080",
			PublicBaseURL: "http://localhost:8080",
		},
		Postgres: PostgresConfig{
			MaxConns:          20,
			MinConns:          2,
			MaxConnLifetime:   30 * time.Minute,
			MaxConnIdleTime:   5 * time.Minute,
			HealthCheckPeriod: 30 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     50,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Prometheus: PrometheusConfig{Port: 9090},
		Tracking: TrackingConfig{
			LinkRetention:            90 * 24 * time.Hour,
			DefaultAttributionWindow: 30 * 24 * time.Hour,
			MaxAttributionWindow:     90 * 24 * time.Hour,
			CookieMaxAge:             30 * 24 * time.Hour,
			PublishTimeout:           250 * time.Millisecond,
			LookupTimeout:            200 * time.Millisecond,
		},
		Fraud: FraudConfig{
			ClickVelocityWindow:     time.Minute,
			ClickVelocityLimit:      10,
			AffiliateHoppingWindow:  24 * time.Hour,
			AffiliateHoppingLimit:   3,
			ConversionWindow:        24 * time.Hour,
			ConversionLimit:         5,
			OrderDedupWindow:        90 * 24 * time.Hour,
			ValueBaselineMinSamples: 10,
			ValueStdDevs:            3,
			FlagThreshold:           40,
			BlockThreshold:          70,
			BurstThreshold:          50,
			SuspiciousLogSize:       1000,
			ReferrerBlocklistFPRate: 0.001,
		},
		Pipeline: PipelineConfig{
			RetryInterval:     30 * time.Second,
			RetryBatch:        100,
			RetryRate:         50,
			MaxRetryEntries:   10000,
			FetchBatch:        10,
			FetchWait:         5 * time.Second,
			ProcessedEventTTL: 7 * 24 * time.Hour,
			SeriesRetention:   30 * 24 * time.Hour,
		},
		Commission: CommissionConfig{
			SettlementInterval: 10 * time.Second,
			SettlementBatch:    50,
		},
	}
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.App.CookieSecret == "" {
		if cfg.App.IsProduction() {
			return nil, fmt.Errorf("app.cookie_secret must be set in production")
		}
		cfg.App.CookieSecret = devCookieSecret
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("app.env", d.App.Env)
	v.SetDefault("app.http_addr", d.App.HTTPAddr)
	v.SetDefault("app.public_base_url", d.App.PublicBaseURL)
	v.SetDefault("app.log_level", d.App.LogLevel)
	v.SetDefault("prometheus.port", d.Prometheus.Port)

	v.SetDefault("postgres.max_conns", d.Postgres.MaxConns)
	v.SetDefault("postgres.min_conns", d.Postgres.MinConns)
	v.SetDefault("postgres.max_conn_lifetime", d.Postgres.MaxConnLifetime)
	v.SetDefault("postgres.max_conn_idle_time", d.Postgres.MaxConnIdleTime)
	v.SetDefault("postgres.health_check_period", d.Postgres.HealthCheckPeriod)

	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)

	v.SetDefault("tracking.link_retention", d.Tracking.LinkRetention)
	v.SetDefault("tracking.default_attribution_window", d.Tracking.DefaultAttributionWindow)
	v.SetDefault("tracking.max_attribution_window", d.Tracking.MaxAttributionWindow)
	v.SetDefault("tracking.cookie_max_age", d.Tracking.CookieMaxAge)
	v.SetDefault("tracking.publish_timeout", d.Tracking.PublishTimeout)
	v.SetDefault("tracking.lookup_timeout", d.Tracking.LookupTimeout)

	v.SetDefault("fraud.click_velocity_window", d.Fraud.ClickVelocityWindow)
	v.SetDefault("fraud.click_velocity_limit", d.Fraud.ClickVelocityLimit)
	v.SetDefault("fraud.affiliate_hopping_window", d.Fraud.AffiliateHoppingWindow)
	v.SetDefault("fraud.affiliate_hopping_limit", d.Fraud.AffiliateHoppingLimit)
	v.SetDefault("fraud.conversion_window", d.Fraud.ConversionWindow)
	v.SetDefault("fraud.conversion_limit", d.Fraud.ConversionLimit)
	v.SetDefault("fraud.order_dedup_window", d.Fraud.OrderDedupWindow)
	v.SetDefault("fraud.value_baseline_min_samples", d.Fraud.ValueBaselineMinSamples)
	v.SetDefault("fraud.value_std_devs", d.Fraud.ValueStdDevs)
	v.SetDefault("fraud.flag_threshold", d.Fraud.FlagThreshold)
	v.SetDefault("fraud.block_threshold", d.Fraud.BlockThreshold)
	v.SetDefault("fraud.burst_threshold", d.Fraud.BurstThreshold)
	v.SetDefault("fraud.suspicious_log_size", d.Fraud.SuspiciousLogSize)
	v.SetDefault("fraud.referrer_blocklist_fp_rate", d.Fraud.ReferrerBlocklistFPRate)

	v.SetDefault("pipeline.retry_interval", d.Pipeline.RetryInterval)
	v.SetDefault("pipeline.retry_batch", d.Pipeline.RetryBatch)
	v.SetDefault("pipeline.retry_rate", d.Pipeline.RetryRate)
	v.SetDefault("pipeline.max_retry_entries", d.Pipeline.MaxRetryEntries)
	v.SetDefault("pipeline.fetch_batch", d.Pipeline.FetchBatch)
	v.SetDefault("pipeline.fetch_wait", d.Pipeline.FetchWait)
	v.SetDefault("pipeline.processed_event_ttl", d.Pipeline.ProcessedEventTTL)
	v.SetDefault("pipeline.series_retention", d.Pipeline.SeriesRetention)

	v.SetDefault("commission.settlement_interval", d.Commission.SettlementInterval)
	v.SetDefault("commission.settlement_batch", d.Commission.SettlementBatch)
}

func bindEnvVars(v *viper.Viper) {
	// Application
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.http_addr", "APP_HTTP_ADDR")
	v.BindEnv("app.public_base_url", "APP_PUBLIC_BASE_URL")
	v.BindEnv("app.cookie_secret", "APP_COOKIE_SECRET")
	v.BindEnv("app.secure_cookies", "APP_SECURE_COOKIES")
	v.BindEnv("app.cors_origins", "APP_CORS_ORIGINS")
	v.BindEnv("app.proxy_header", "APP_PROXY_HEADER")
	v.BindEnv("app.trusted_proxies", "APP_TRUSTED_PROXIES")
	v.BindEnv("app.log_level", "LOG_LEVEL")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")
	v.BindEnv("postgres.max_conns", "PG_MAX_CONNS")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Tracking
	v.BindEnv("tracking.default_attribution_window", "TRACKING_DEFAULT_ATTRIBUTION_WINDOW")
	v.BindEnv("tracking.publish_timeout", "TRACKING_PUBLISH_TIMEOUT")
	v.BindEnv("tracking.lookup_timeout", "TRACKING_LOOKUP_TIMEOUT")
}
