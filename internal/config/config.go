package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Supabase   SupabaseConfig   `yaml:"supabase"`
	JWT        JWTConfig        `yaml:"jwt"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Cache      CacheConfig      `yaml:"cache"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Automation AutomationConfig `yaml:"automation"`
	Signup     SignupConfig     `yaml:"signup"`
	Tenant     TenantConfig     `yaml:"tenant"`
	SMTP       SMTPConfig       `yaml:"smtp"`

	// DataSource selects the remote data client: "supabase" (PostgREST) or "postgres" (direct).
	DataSource string `yaml:"data_source"`
	GinMode    string `yaml:"gin_mode"`
	LogLevel   string `yaml:"log_level"`
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origins"`
	DemoMode   bool   `yaml:"demo_mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type SupabaseConfig struct {
	URL            string `yaml:"url"`
	AnonKey        string `yaml:"anon_key"`
	ServiceRoleKey string `yaml:"service_role_key"`
	Bucket         string `yaml:"bucket"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type RedisConfig struct {
	URL               string `yaml:"url"`
	InvalidateChannel string `yaml:"invalidate_channel"`
}

type RabbitMQConfig struct {
	URL                         string `yaml:"url"`
	Exchange                    string `yaml:"exchange"`
	ReconnectBackoffBaseSeconds int    `yaml:"reconnect_backoff_base_seconds"`
	ReconnectBackoffCapSeconds  int    `yaml:"reconnect_backoff_cap_seconds"`
}

type CacheConfig struct {
	StaleTime  time.Duration `yaml:"stale_time"`
	Retry      int           `yaml:"retry"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	SharedTTL  time.Duration `yaml:"shared_ttl"`
}

type RealtimeConfig struct {
	// Source is one of "memory", "amqp", "postgres".
	Source  string `yaml:"source"`
	Channel string `yaml:"channel"`
}

type AutomationConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Workspaces  []string      `yaml:"workspaces"`
}

type SignupConfig struct {
	InvitationCode string `yaml:"invitation_code"`
}

type TenantConfig struct {
	// SecretKey is a hex encoded 32 byte key used to seal per-workspace settings.
	SecretKey string `yaml:"secret_key"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

func New() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "crm"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Supabase: SupabaseConfig{
			URL:            getEnv("SUPABASE_URL", ""),
			AnonKey:        getEnv("SUPABASE_ANON_KEY", ""),
			ServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
			Bucket:         getEnv("SUPABASE_BUCKET", "whatsapp-media"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},
		Redis: RedisConfig{
			URL:               getEnv("REDIS_URL", ""),
			InvalidateChannel: getEnv("REDIS_INVALIDATE_CHANNEL", "crm:cache:invalidate"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                         getEnv("RABBITMQ_URL", ""),
			Exchange:                    getEnv("RABBITMQ_EXCHANGE", "crm.changes"),
			ReconnectBackoffBaseSeconds: getEnvInt("RABBITMQ_BACKOFF_BASE_SECONDS", 1),
			ReconnectBackoffCapSeconds:  getEnvInt("RABBITMQ_BACKOFF_CAP_SECONDS", 30),
		},
		Cache: CacheConfig{
			StaleTime:  getEnvDuration("CACHE_STALE_TIME", 30*time.Second),
			Retry:      getEnvInt("CACHE_RETRY", 3),
			RetryDelay: getEnvDuration("CACHE_RETRY_DELAY", time.Second),
			SharedTTL:  getEnvDuration("CACHE_SHARED_TTL", 5*time.Minute),
		},
		Realtime: RealtimeConfig{
			Source:  getEnv("REALTIME_SOURCE", "memory"),
			Channel: getEnv("REALTIME_PG_CHANNEL", "crm_changes"),
		},
		Automation: AutomationConfig{
			Interval:    getEnvDuration("AUTOMATION_INTERVAL", time.Minute),
			Concurrency: getEnvInt("AUTOMATION_CONCURRENCY", 4),
			Workspaces:  splitList(getEnv("AUTOMATION_WORKSPACES", "")),
		},
		Signup: SignupConfig{
			InvitationCode: getEnv("SIGNUP_INVITATION_CODE", ""),
		},
		Tenant: TenantConfig{
			SecretKey: getEnv("TENANT_SECRET_KEY", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnv("SMTP_PORT", "587"),
			Email:    getEnv("SMTP_EMAIL", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
		},
		DataSource: getEnv("DATA_SOURCE", "supabase"),
		GinMode:    getEnv("GIN_MODE", "debug"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Port:       getEnv("PORT", "8080"),
		CORSOrigin: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		DemoMode:   getEnv("DEMO_MODE", "") == "true",
	}
}

// Load builds the configuration from an optional YAML file and then applies
// environment overrides on top of it. An empty path means env only.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	fileCfg := &Config{}
	if err := yaml.Unmarshal(data, fileCfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	fileCfg.applyDefaults(cfg)
	fileCfg.applyEnvOverrides()
	return fileCfg, nil
}

// applyDefaults fills every zero field of c from defaults.
func (c *Config) applyDefaults(d *Config) {
	setString(&c.Database.Host, d.Database.Host)
	setString(&c.Database.Port, d.Database.Port)
	setString(&c.Database.User, d.Database.User)
	setString(&c.Database.DBName, d.Database.DBName)
	setString(&c.Database.SSLMode, d.Database.SSLMode)
	setString(&c.Supabase.Bucket, d.Supabase.Bucket)
	setString(&c.JWT.Secret, d.JWT.Secret)
	setString(&c.JWT.Expiry, d.JWT.Expiry)
	setString(&c.Redis.InvalidateChannel, d.Redis.InvalidateChannel)
	setString(&c.RabbitMQ.Exchange, d.RabbitMQ.Exchange)
	setString(&c.Realtime.Source, d.Realtime.Source)
	setString(&c.Realtime.Channel, d.Realtime.Channel)
	setString(&c.SMTP.Host, d.SMTP.Host)
	setString(&c.SMTP.Port, d.SMTP.Port)
	setString(&c.DataSource, d.DataSource)
	setString(&c.GinMode, d.GinMode)
	setString(&c.LogLevel, d.LogLevel)
	setString(&c.Port, d.Port)
	setString(&c.CORSOrigin, d.CORSOrigin)

	if c.RabbitMQ.ReconnectBackoffBaseSeconds == 0 {
		c.RabbitMQ.ReconnectBackoffBaseSeconds = d.RabbitMQ.ReconnectBackoffBaseSeconds
	}
	if c.RabbitMQ.ReconnectBackoffCapSeconds == 0 {
		c.RabbitMQ.ReconnectBackoffCapSeconds = d.RabbitMQ.ReconnectBackoffCapSeconds
	}
	if c.Cache.StaleTime == 0 {
		c.Cache.StaleTime = d.Cache.StaleTime
	}
	if c.Cache.Retry == 0 {
		c.Cache.Retry = d.Cache.Retry
	}
	if c.Cache.RetryDelay == 0 {
		c.Cache.RetryDelay = d.Cache.RetryDelay
	}
	if c.Cache.SharedTTL == 0 {
		c.Cache.SharedTTL = d.Cache.SharedTTL
	}
	if c.Automation.Interval == 0 {
		c.Automation.Interval = d.Automation.Interval
	}
	if c.Automation.Concurrency == 0 {
		c.Automation.Concurrency = d.Automation.Concurrency
	}
	if len(c.Automation.Workspaces) == 0 {
		c.Automation.Workspaces = d.Automation.Workspaces
	}
}

// applyEnvOverrides lets explicitly set environment variables win over the file.
func (c *Config) applyEnvOverrides() {
	overrideString(&c.Database.Host, "DB_HOST")
	overrideString(&c.Database.Port, "DB_PORT")
	overrideString(&c.Database.User, "DB_USER")
	overrideString(&c.Database.Password, "DB_PASSWORD")
	overrideString(&c.Database.DBName, "DB_NAME")
	overrideString(&c.Database.SSLMode, "DB_SSLMODE")
	overrideString(&c.Supabase.URL, "SUPABASE_URL")
	overrideString(&c.Supabase.AnonKey, "SUPABASE_ANON_KEY")
	overrideString(&c.Supabase.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	overrideString(&c.Supabase.Bucket, "SUPABASE_BUCKET")
	overrideString(&c.JWT.Secret, "JWT_SECRET")
	overrideString(&c.Redis.URL, "REDIS_URL")
	overrideString(&c.RabbitMQ.URL, "RABBITMQ_URL")
	overrideString(&c.Realtime.Source, "REALTIME_SOURCE")
	overrideString(&c.Signup.InvitationCode, "SIGNUP_INVITATION_CODE")
	overrideString(&c.Tenant.SecretKey, "TENANT_SECRET_KEY")
	overrideString(&c.DataSource, "DATA_SOURCE")
	overrideString(&c.GinMode, "GIN_MODE")
	overrideString(&c.LogLevel, "LOG_LEVEL")
	overrideString(&c.Port, "PORT")
	overrideString(&c.CORSOrigin, "CORS_ORIGINS")

	if v := os.Getenv("CACHE_STALE_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.StaleTime = d
		}
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		c.DemoMode = v == "true"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) GetDatabaseURL() string {
	return c.buildDatabaseURL()
}

func (c *Config) buildDatabaseURL() string {
	var sb strings.Builder

	sb.WriteString("postgres://")
	sb.WriteString(c.Database.User)
	if c.Database.Password != "" {
		sb.WriteString(":")
		sb.WriteString(c.Database.Password)
	}
	sb.WriteString("@")
	sb.WriteString(c.Database.Host)
	sb.WriteString(":")
	sb.WriteString(c.Database.Port)
	sb.WriteString("/")
	sb.WriteString(c.Database.DBName)

	if c.Database.SSLMode != "" {
		sb.WriteString("?sslmode=")
		sb.WriteString(c.Database.SSLMode)
	}

	return sb.String()
}

func (c *Config) GetCORSOrigins() []string {
	return strings.Split(c.CORSOrigin, ",")
}

// JWTExpiry parses JWT.Expiry, falling back to 24h.
func (c *Config) JWTExpiry() time.Duration {
	d, err := time.ParseDuration(c.JWT.Expiry)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
