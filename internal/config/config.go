package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the leadprobe pipeline.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	MXResolver  MXResolverConfig  `yaml:"mx_resolver"`
	CatchAll    CatchAllConfig    `yaml:"catch_all"`
	SMTPProbe   SMTPProbeConfig   `yaml:"smtp_probe"`
	Queue       QueueConfig       `yaml:"queue"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Observability ObservabilityConfig `yaml:"observability"`
	FallbackProvider FallbackProviderConfig `yaml:"fallback_provider"`
}

// ServerConfig holds the status/results API server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, allowing environment override.
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                 string `yaml:"url"`
	MaxOpenConns        int    `yaml:"max_open_conns"`
	MaxIdleConns        int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMins int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMins) * time.Minute
}

// RedisConfig holds the Redis connection used by the rate limiter and the
// recovery-sweep distributed lock.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RateLimiterConfig holds the layered rate limit budgets.
type RateLimiterConfig struct {
	GlobalPerSecond   int `yaml:"global_per_second"`
	PerMXPerSecond    int `yaml:"per_mx_per_second"`
	PerDomainPerHour  int `yaml:"per_domain_per_hour"`
	PerTenantPerDay   int `yaml:"per_tenant_per_day"`
}

// FetcherConfig holds the polite HTTP fetcher's tunables.
type FetcherConfig struct {
	UserAgent           string   `yaml:"user_agent"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes"`
	RespectRobots       bool     `yaml:"respect_robots"`
	DefaultCrawlDelayMS int      `yaml:"default_crawl_delay_ms"`
	MaxRetries          int      `yaml:"max_retries"`
	BaseRetryDelayMS    int      `yaml:"base_retry_delay_ms"`
	RobotsTTLSeconds     int     `yaml:"robots_ttl_sec"`
	RobotsDenyTTLSeconds int     `yaml:"robots_deny_ttl_sec"`
	CacheTTLSeconds      int     `yaml:"fetch_cache_ttl_sec"`
	CrawlMaxPagesPerDomain int   `yaml:"crawl_max_pages_per_domain"`
	CrawlMaxDepth        int     `yaml:"crawl_max_depth"`
}

// Timeout returns the configured fetch timeout as a duration.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RobotsTTL returns the configured robots.txt fresh-result cache lifetime.
func (c FetcherConfig) RobotsTTL() time.Duration {
	return time.Duration(c.RobotsTTLSeconds) * time.Second
}

// RobotsDenyTTL returns the configured lifetime for the deny-all verdict
// cached after a robots.txt 5xx response.
func (c FetcherConfig) RobotsDenyTTL() time.Duration {
	return time.Duration(c.RobotsDenyTTLSeconds) * time.Second
}

// CacheTTL returns the configured response-cache lifetime used when an
// origin sends no Cache-Control max-age.
func (c FetcherConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// MXResolverConfig holds MX lookup/caching tunables.
type MXResolverConfig struct {
	ResolverTimeoutSeconds int      `yaml:"resolver_timeout_seconds"`
	CacheTTLMinutes        int      `yaml:"cache_ttl_minutes"`
	FreemailDenylist       []string `yaml:"freemail_denylist"`
}

// ResolverTimeout returns the configured DNS resolver timeout.
func (c MXResolverConfig) ResolverTimeout() time.Duration {
	return time.Duration(c.ResolverTimeoutSeconds) * time.Second
}

// CacheTTL returns the configured MX cache lifetime.
func (c MXResolverConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// CatchAllConfig holds catch-all detection tunables.
type CatchAllConfig struct {
	Enabled      bool `yaml:"enabled"`
	ProbeCount   int  `yaml:"probe_count"`
	CacheTTLHours int `yaml:"cache_ttl_hours"`
	SkipProbesOnCatchAll bool `yaml:"skip_probes_on_catch_all"`
}

// CacheTTL returns the configured catch-all verdict cache lifetime.
func (c CatchAllConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// SMTPProbeConfig holds SMTP prober tunables.
type SMTPProbeConfig struct {
	HeloHostname           string `yaml:"helo_hostname"`
	MailFrom               string `yaml:"mail_from"`
	PreflightTimeoutSeconds int   `yaml:"smtp_preflight_timeout"`
	ConnectTimeoutSeconds  int    `yaml:"connect_timeout_seconds"`
	CommandTimeoutSeconds  int    `yaml:"command_timeout_seconds"`
	MaxConcurrentPerMX     int    `yaml:"max_concurrent_per_mx"`
	MaxConcurrentPerDomain int    `yaml:"max_concurrent_per_domain"`
	EnableSTARTTLS         bool   `yaml:"enable_starttls"`
}

// PreflightTimeout returns the configured TCP:25 preflight timeout.
func (c SMTPProbeConfig) PreflightTimeout() time.Duration {
	return time.Duration(c.PreflightTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the configured TCP connect timeout.
func (c SMTPProbeConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the configured SMTP command round-trip timeout.
func (c SMTPProbeConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// FallbackProviderConfig holds the optional third-party verification
// API used to decide classify.Input.Fallback when the TCP:25 preflight
// is blocked, the probe times out, or RCPT returns temp_fail/unknown.
// Left unset, no fallback provider runs and those paths resolve to
// unknown_timeout.
type FallbackProviderConfig struct {
	URL    string `yaml:"third_party_verify_url"`
	APIKey string `yaml:"third_party_verify_api_key"`
}

// Enabled reports whether a fallback provider endpoint is configured.
func (c FallbackProviderConfig) Enabled() bool {
	return c.URL != ""
}

// QueueConfig holds the durable work queue's tunables.
type QueueConfig struct {
	PollIntervalMS   int `yaml:"poll_interval_ms"`
	BatchSize        int `yaml:"batch_size"`
	LeaseMinutes     int `yaml:"lease_minutes"`
	MaxRetries       int `yaml:"max_retries"`
	RecoverySweepSeconds int `yaml:"recovery_sweep_seconds"`
}

// PollInterval returns the configured poll interval as a duration.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Lease returns the configured lease duration.
func (c QueueConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// RecoverySweep returns the configured stuck-item sweep interval.
func (c QueueConfig) RecoverySweep() time.Duration {
	return time.Duration(c.RecoverySweepSeconds) * time.Second
}

// OrchestratorConfig holds pipeline orchestrator tunables.
type OrchestratorConfig struct {
	TenantDailyCompanyBudget int `yaml:"tenant_daily_company_budget"`
	DomainStageConcurrency   int `yaml:"domain_stage_concurrency"`
}

// ObservabilityConfig holds ambient logging/metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
}

// Load reads and parses the YAML configuration file, applying defaults for
// any tunable left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMins == 0 {
		cfg.Database.ConnMaxLifetimeMins = 5
	}
	if cfg.RateLimiter.GlobalPerSecond == 0 {
		cfg.RateLimiter.GlobalPerSecond = 50
	}
	if cfg.RateLimiter.PerMXPerSecond == 0 {
		cfg.RateLimiter.PerMXPerSecond = 2
	}
	if cfg.RateLimiter.PerDomainPerHour == 0 {
		cfg.RateLimiter.PerDomainPerHour = 30
	}
	if cfg.RateLimiter.PerTenantPerDay == 0 {
		cfg.RateLimiter.PerTenantPerDay = 5000
	}
	if cfg.Fetcher.UserAgent == "" {
		cfg.Fetcher.UserAgent = "leadprobe-crawler/1.0 (+https://leadprobe.example/bot)"
	}
	if cfg.Fetcher.TimeoutSeconds == 0 {
		cfg.Fetcher.TimeoutSeconds = 15
	}
	if cfg.Fetcher.MaxBodyBytes == 0 {
		cfg.Fetcher.MaxBodyBytes = 512 * 1024
	}
	if cfg.Fetcher.DefaultCrawlDelayMS == 0 {
		cfg.Fetcher.DefaultCrawlDelayMS = 500
	}
	if cfg.Fetcher.MaxRetries == 0 {
		cfg.Fetcher.MaxRetries = 3
	}
	if cfg.Fetcher.BaseRetryDelayMS == 0 {
		cfg.Fetcher.BaseRetryDelayMS = 200
	}
	if cfg.Fetcher.RobotsTTLSeconds == 0 {
		cfg.Fetcher.RobotsTTLSeconds = 3600
	}
	if cfg.Fetcher.RobotsDenyTTLSeconds == 0 {
		cfg.Fetcher.RobotsDenyTTLSeconds = 300
	}
	if cfg.Fetcher.CacheTTLSeconds == 0 {
		cfg.Fetcher.CacheTTLSeconds = 900
	}
	if cfg.Fetcher.CrawlMaxPagesPerDomain == 0 {
		cfg.Fetcher.CrawlMaxPagesPerDomain = 4
	}
	if cfg.Fetcher.CrawlMaxDepth == 0 {
		cfg.Fetcher.CrawlMaxDepth = 2
	}
	if cfg.MXResolver.ResolverTimeoutSeconds == 0 {
		cfg.MXResolver.ResolverTimeoutSeconds = 5
	}
	if cfg.MXResolver.CacheTTLMinutes == 0 {
		cfg.MXResolver.CacheTTLMinutes = 360
	}
	if cfg.CatchAll.ProbeCount == 0 {
		cfg.CatchAll.ProbeCount = 2
	}
	if cfg.CatchAll.CacheTTLHours == 0 {
		cfg.CatchAll.CacheTTLHours = 24
	}
	if cfg.SMTPProbe.HeloHostname == "" {
		cfg.SMTPProbe.HeloHostname = "verify.leadprobe.example"
	}
	// MailFrom intentionally defaults to empty (null sender / bounce address),
	// matching the null-return-path convention used for verification probes.
	if cfg.SMTPProbe.PreflightTimeoutSeconds == 0 {
		cfg.SMTPProbe.PreflightTimeoutSeconds = 5
	}
	if cfg.SMTPProbe.ConnectTimeoutSeconds == 0 {
		cfg.SMTPProbe.ConnectTimeoutSeconds = 10
	}
	if cfg.SMTPProbe.CommandTimeoutSeconds == 0 {
		cfg.SMTPProbe.CommandTimeoutSeconds = 8
	}
	if cfg.SMTPProbe.MaxConcurrentPerMX == 0 {
		cfg.SMTPProbe.MaxConcurrentPerMX = 2
	}
	if cfg.SMTPProbe.MaxConcurrentPerDomain == 0 {
		cfg.SMTPProbe.MaxConcurrentPerDomain = 1
	}
	if cfg.Queue.PollIntervalMS == 0 {
		cfg.Queue.PollIntervalMS = 500
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 20
	}
	if cfg.Queue.LeaseMinutes == 0 {
		cfg.Queue.LeaseMinutes = 5
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if cfg.Queue.RecoverySweepSeconds == 0 {
		cfg.Queue.RecoverySweepSeconds = 120
	}
	if cfg.Orchestrator.TenantDailyCompanyBudget == 0 {
		cfg.Orchestrator.TenantDailyCompanyBudget = 500
	}
	if cfg.Orchestrator.DomainStageConcurrency == 0 {
		cfg.Orchestrator.DomainStageConcurrency = 8
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file first (if present), so secrets can live there
// locally and in real environment variables in deployed environments.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("FETCHER_USER_AGENT"); v != "" {
		cfg.Fetcher.UserAgent = v
	}
	if v := os.Getenv("SMTP_HELO_HOSTNAME"); v != "" {
		cfg.SMTPProbe.HeloHostname = v
	}

	return cfg, nil
}
