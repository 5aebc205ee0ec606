// Package config loads application configuration from an optional YAML file
// with environment variable overrides. Settings are loaded once per process
// and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingYandexAuth is returned when neither an IAM token nor a service
// account key is configured and a component needs Yandex Cloud access.
var ErrMissingYandexAuth = errors.New("yandex cloud auth not configured: set YANDEX_CLOUD_IAM_TOKEN or a service account key")

// Config holds all configuration for the pipeline.
type Config struct {
	Timezone   string          `yaml:"timezone"`
	RedisURL   string          `yaml:"redis_url"` // reserved, not consumed yet
	Postgres   PostgresConfig  `yaml:"postgres"`
	Yandex     YandexConfig    `yaml:"yandex"`
	OpenAI     OpenAIConfig    `yaml:"openai"`
	Sending    SendingConfig   `yaml:"sending"`
	Gmail      SMTPChannel     `yaml:"gmail"`
	YandexSMTP SMTPChannel     `yaml:"yandex_smtp"`
	Routing    RoutingConfig   `yaml:"routing"`
	Sheets     SheetsConfig    `yaml:"sheets"`
	SheetSync  SheetSyncConfig `yaml:"sheet_sync"`
	QueryGen   QueryGenConfig  `yaml:"query_gen"`
	Enrich     EnrichConfig    `yaml:"enrich"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// YandexConfig holds Yandex Cloud search API settings.
type YandexConfig struct {
	FolderID            string `yaml:"folder_id"`
	IAMToken            string `yaml:"iam_token"`
	SAKeyFile           string `yaml:"sa_key_file"`
	SAKeyJSON           string `yaml:"sa_key_json"`
	EnforceNightWindow  bool   `yaml:"enforce_night_window"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	MaxWaitMinutes      int    `yaml:"max_wait_minutes"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
}

// Timeout returns the HTTP timeout as a duration.
func (c YandexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks that some form of Yandex Cloud auth is present.
func (c YandexConfig) Validate() error {
	if c.IAMToken == "" && c.SAKeyFile == "" && c.SAKeyJSON == "" {
		return ErrMissingYandexAuth
	}
	return nil
}

// OpenAIConfig holds LLM generation settings.
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the HTTP timeout as a duration.
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendingConfig holds the outbound send window and pacing.
type SendingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	WindowStart     string `yaml:"window_start"`
	WindowEnd       string `yaml:"window_end"`
	MinDelaySeconds int    `yaml:"min_delay_seconds"`
	MaxDelaySeconds int    `yaml:"max_delay_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// SMTPChannel holds one SMTP delivery channel.
type SMTPChannel struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UseTLS    bool   `yaml:"use_tls"` // STARTTLS
	UseSSL    bool   `yaml:"use_ssl"` // implicit TLS
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Configured reports whether the channel can be used for delivery.
func (c SMTPChannel) Configured() bool {
	return c.Host != "" && c.FromAddress() != ""
}

// FromAddress returns the effective sender address.
func (c SMTPChannel) FromAddress() string {
	if c.FromEmail != "" {
		return c.FromEmail
	}
	return c.From
}

// RoutingConfig holds MX-based SMTP routing settings.
type RoutingConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MXCacheTTLHours int      `yaml:"mx_cache_ttl_hours"`
	DNSTimeoutMS    int      `yaml:"dns_timeout_ms"`
	DNSResolvers    []string `yaml:"dns_resolvers"`
	RUMXPatterns    []string `yaml:"ru_mx_patterns"`
	RUTLDs          []string `yaml:"ru_tlds"`
	ForceRUDomains  []string `yaml:"force_ru_domains"`
}

// DNSTimeout returns the per-attempt resolver timeout.
func (c RoutingConfig) DNSTimeout() time.Duration {
	return time.Duration(c.DNSTimeoutMS) * time.Millisecond
}

// SheetsConfig holds Google Sheets access settings.
type SheetsConfig struct {
	SheetID   string `yaml:"sheet_id"`
	Tab       string `yaml:"tab"`
	SAKeyFile string `yaml:"sa_key_file"`
	SAKeyJSON string `yaml:"sa_key_json"`
}

// SheetSyncConfig holds the periodic sheet sync settings.
type SheetSyncConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	BatchTag        string `yaml:"batch_tag"`
}

// Interval returns the sync interval as a duration.
func (c SheetSyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// QueryGenConfig holds search query generation settings.
type QueryGenConfig struct {
	Language           string `yaml:"language"`
	SpacingSeconds     int    `yaml:"spacing_seconds"`
	MaxQueriesPerNiche int    `yaml:"max_queries_per_niche"`
	RegionFallback     int    `yaml:"region_fallback"`
	NightWindowStart   string `yaml:"night_window_start"`
	NightWindowEnd     string `yaml:"night_window_end"`
}

// EnrichConfig holds contact enrichment settings.
type EnrichConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
}

// Timeout returns the per-request fetch timeout.
func (c EnrichConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file. An empty path yields a
// config holding only defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Moscow"
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "db"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "leadgen"
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "leadgen"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Yandex.PollIntervalSeconds == 0 {
		cfg.Yandex.PollIntervalSeconds = 60
	}
	if cfg.Yandex.MaxWaitMinutes == 0 {
		cfg.Yandex.MaxWaitMinutes = 180
	}
	if cfg.Yandex.TimeoutSeconds == 0 {
		cfg.Yandex.TimeoutSeconds = 10
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4.1-mini"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.4
	}
	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = 15
	}
	if cfg.Sending.WindowStart == "" {
		cfg.Sending.WindowStart = "09:10"
	}
	if cfg.Sending.WindowEnd == "" {
		cfg.Sending.WindowEnd = "19:45"
	}
	if cfg.Sending.MinDelaySeconds == 0 {
		cfg.Sending.MinDelaySeconds = 540
	}
	if cfg.Sending.MaxDelaySeconds == 0 {
		cfg.Sending.MaxDelaySeconds = 960
	}
	if cfg.Sending.TimeoutSeconds == 0 {
		cfg.Sending.TimeoutSeconds = 30
	}
	if cfg.Routing.MXCacheTTLHours == 0 {
		cfg.Routing.MXCacheTTLHours = 168
	}
	if cfg.Routing.DNSTimeoutMS == 0 {
		cfg.Routing.DNSTimeoutMS = 3000
	}
	if len(cfg.Routing.RUTLDs) == 0 {
		cfg.Routing.RUTLDs = []string{".ru", ".su"}
	}
	if cfg.Sheets.Tab == "" {
		cfg.Sheets.Tab = "NICHES_INPUT"
	}
	if cfg.SheetSync.IntervalMinutes == 0 {
		cfg.SheetSync.IntervalMinutes = 60
	}
	if cfg.QueryGen.Language == "" {
		cfg.QueryGen.Language = "ru"
	}
	if cfg.QueryGen.SpacingSeconds == 0 {
		cfg.QueryGen.SpacingSeconds = 45
	}
	if cfg.QueryGen.MaxQueriesPerNiche == 0 {
		cfg.QueryGen.MaxQueriesPerNiche = 6
	}
	if cfg.QueryGen.RegionFallback == 0 {
		cfg.QueryGen.RegionFallback = 225
	}
	if cfg.QueryGen.NightWindowStart == "" {
		cfg.QueryGen.NightWindowStart = "00:00"
	}
	if cfg.QueryGen.NightWindowEnd == "" {
		cfg.QueryGen.NightWindowEnd = "07:59"
	}
	if cfg.Enrich.TimeoutSeconds == 0 {
		cfg.Enrich.TimeoutSeconds = 10
	}
	if cfg.Enrich.UserAgent == "" {
		cfg.Enrich.UserAgent = "LeadGenBot/1.0 (+https://example.com/bot-info)"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	envStr(&cfg.Timezone, "APP_TIMEZONE")
	envStr(&cfg.RedisURL, "REDIS_URL")

	envStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	envInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	envStr(&cfg.Postgres.User, "POSTGRES_USER")
	envStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	envStr(&cfg.Postgres.Database, "POSTGRES_DB")
	envStr(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")

	envStr(&cfg.Yandex.FolderID, "YANDEX_CLOUD_FOLDER_ID")
	envStr(&cfg.Yandex.IAMToken, "YANDEX_CLOUD_IAM_TOKEN")
	envStr(&cfg.Yandex.SAKeyFile, "YANDEX_CLOUD_SA_KEY_FILE")
	envStr(&cfg.Yandex.SAKeyJSON, "YANDEX_CLOUD_SA_KEY_JSON")
	cfg.Yandex.EnforceNightWindow = envBool("YANDEX_ENFORCE_NIGHT_WINDOW", true)

	envStr(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	envStr(&cfg.OpenAI.Model, "OPENAI_MODEL")

	cfg.Sending.Enabled = envBool("EMAIL_SENDING_ENABLED", true)

	loadChannel(&cfg.Gmail, "GMAIL")
	loadChannel(&cfg.YandexSMTP, "YANDEX")

	cfg.Routing.Enabled = envBool("ROUTING_ENABLED", cfg.Routing.Enabled)
	envInt(&cfg.Routing.MXCacheTTLHours, "ROUTING_MX_CACHE_TTL_HOURS")
	envInt(&cfg.Routing.DNSTimeoutMS, "ROUTING_DNS_TIMEOUT_MS")
	envList(&cfg.Routing.DNSResolvers, "ROUTING_DNS_RESOLVERS")
	envList(&cfg.Routing.RUMXPatterns, "ROUTING_RU_MX_PATTERNS")
	envList(&cfg.Routing.ForceRUDomains, "ROUTING_FORCE_RU_DOMAINS")

	envStr(&cfg.Sheets.SheetID, "GOOGLE_SHEET_ID")
	envStr(&cfg.Sheets.Tab, "GOOGLE_SHEET_TAB")
	envStr(&cfg.Sheets.SAKeyFile, "GOOGLE_SA_KEY_FILE")
	envStr(&cfg.Sheets.SAKeyJSON, "GOOGLE_SA_KEY_JSON")

	cfg.SheetSync.Enabled = envBool("SHEET_SYNC_ENABLED", false)
	envInt(&cfg.SheetSync.IntervalMinutes, "SHEET_SYNC_INTERVAL_MINUTES")
	envStr(&cfg.SheetSync.BatchTag, "SHEET_SYNC_BATCH_TAG")

	return cfg, nil
}

func loadChannel(c *SMTPChannel, prefix string) {
	envStr(&c.Host, prefix+"_SMTP_HOST")
	envInt(&c.Port, prefix+"_SMTP_PORT")
	c.UseTLS = envBool(prefix+"_SMTP_TLS", c.UseTLS)
	c.UseSSL = envBool(prefix+"_SMTP_SSL", c.UseSSL)
	envStr(&c.Username, prefix+"_USER")
	envStr(&c.Password, prefix+"_PASS")
	envStr(&c.From, prefix+"_FROM")
	envStr(&c.FromEmail, prefix+"_FROM_EMAIL")
	envStr(&c.FromName, prefix+"_FROM_NAME")
}

func envStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func envList(dst *[]string, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

var (
	cacheMu sync.Mutex
	cached  *Config
)

// Get returns the process-wide configuration, loading it from the
// environment (and CONFIG_FILE, when set) on first use.
func Get() (*Config, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cached != nil {
		return cached, nil
	}
	cfg, err := LoadFromEnv(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	cached = cfg
	return cached, nil
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cached = nil
}
