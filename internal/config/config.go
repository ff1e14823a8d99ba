package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Listing    ListingConfig    `yaml:"listing" mapstructure:"listing"`
	Detail     DetailConfig     `yaml:"detail" mapstructure:"detail"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ListingConfig configures the paginated fund-listing API.
type ListingConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	GraphTerm   string  `yaml:"graph_term" mapstructure:"graph_term"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages"` // 0 = until an empty page
}

// DetailConfig configures detail-page rendering.
type DetailConfig struct {
	URLTemplate string  `yaml:"url_template" mapstructure:"url_template"`
	Renderer    string  `yaml:"renderer" mapstructure:"renderer"` // "chrome" or "http"
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	ChromePath  string  `yaml:"chrome_path" mapstructure:"chrome_path"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	Headless    bool    `yaml:"headless" mapstructure:"headless"`
}

// CrawlConfig configures the crawl orchestrator and its schedule.
type CrawlConfig struct {
	Schedule          string `yaml:"schedule" mapstructure:"schedule"`
	DetailConcurrency int    `yaml:"detail_concurrency" mapstructure:"detail_concurrency"`
	RunOnStart        bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	CacheTTLSecs int      `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// MonitoringConfig configures crawl health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RecordFailThreshold  float64 `yaml:"record_fail_threshold" mapstructure:"record_fail_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUNDCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("listing.url", "https://www.samsungfund.com/api/v1/fund/product.do")
	v.SetDefault("listing.graph_term", "1")
	v.SetDefault("listing.timeout_secs", 30)
	v.SetDefault("listing.max_attempts", 1)
	v.SetDefault("listing.rate_per_sec", 5)
	v.SetDefault("listing.user_agent", "fund-crawler/1.0")
	v.SetDefault("listing.max_pages", 0)
	v.SetDefault("detail.url_template", "https://www.samsungfund.com/fund/product/view.do?id=%s")
	v.SetDefault("detail.renderer", "chrome")
	v.SetDefault("detail.timeout_secs", 10)
	v.SetDefault("detail.rate_per_sec", 2)
	v.SetDefault("detail.headless", true)
	v.SetDefault("detail.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.6668.90 Safari/537.36")
	v.SetDefault("crawl.schedule", "@every 1h")
	v.SetDefault("crawl.detail_concurrency", 1)
	v.SetDefault("crawl.run_on_start", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.cache_ttl_secs", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.record_fail_threshold", 0.2)
	v.SetDefault("monitoring.stale_after_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode
// ("crawl", "serve" or "read").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "read":
	case "crawl", "serve":
		errs = append(errs, c.validateCrawl()...)
		if mode == "serve" {
			if c.Server.Port <= 0 {
				errs = append(errs, "server.port must be > 0")
			}
			if c.Crawl.Schedule == "" {
				errs = append(errs, "crawl.schedule is required")
			}
			if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
				errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCrawl() []string {
	var errs []string
	if c.Listing.URL == "" {
		errs = append(errs, "listing.url is required")
	}
	if !strings.Contains(c.Detail.URLTemplate, "%s") {
		errs = append(errs, "detail.url_template must contain %s")
	}
	if c.Detail.Renderer != "chrome" && c.Detail.Renderer != "http" {
		errs = append(errs, "detail.renderer must be chrome or http")
	}
	if c.Detail.TimeoutSecs <= 0 {
		errs = append(errs, "detail.timeout_secs must be > 0")
	}
	if c.Crawl.DetailConcurrency < 1 || c.Crawl.DetailConcurrency > 16 {
		errs = append(errs, "crawl.detail_concurrency must be between 1 and 16")
	}
	return errs
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Store.DatabaseURL != "" {
		out.Store.DatabaseURL = "********"
	}
	if out.Monitoring.WebhookURL != "" {
		out.Monitoring.WebhookURL = "********"
	}
	return out
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
