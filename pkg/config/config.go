package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage/blob"
	"github.com/platinummonkey/taskboard/pkg/storage/postgres"
	"github.com/platinummonkey/taskboard/pkg/storage/redisclient"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "TASKBOARD_"

// MinSecretLength is the minimum size in bytes of a token signing secret
const MinSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Tokens        TokenConfig         `yaml:"tokens"`
	Mail          MailConfig          `yaml:"mail"`
	S3            S3Config            `yaml:"s3"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimits    RateLimitConfig     `yaml:"rateLimits"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	PublicURL       string        `yaml:"publicUrl"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	TrustedProxies  []string      `yaml:"trustedProxies"`
	CookieSecure    bool          `yaml:"cookieSecure"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Metrics and probes listen on a separate port
	OpsPort string `yaml:"opsPort"`
}

type DatabaseConfig struct {
	URL         string   `yaml:"url"`
	ReplicaURLs []string `yaml:"replicaUrls"`
	MaxConns    int      `yaml:"maxConns"`
	MinConns    int      `yaml:"minConns"`
}

type TokenConfig struct {
	AccessSecret  string        `yaml:"accessSecret"`
	AccessExpiry  time.Duration `yaml:"accessExpiry"`
	RefreshSecret string        `yaml:"refreshSecret"`
	RefreshExpiry time.Duration `yaml:"refreshExpiry"`
}

type MailConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	From          string        `yaml:"from"`
	RetryAttempts int           `yaml:"retryAttempts"`
	Timeout       time.Duration `yaml:"timeout"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
	PublicBaseURL   string `yaml:"publicBaseUrl"`
}

// RedisConfig enables the shared rate limiter and read cache when URL is set
type RedisConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"poolSize"`
}

// Budget is a request allowance per client IP
type Budget struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	API   Budget `yaml:"api"`
	Auth  Budget `yaml:"auth"`
	Email Budget `yaml:"email"`
}

type JobsConfig struct {
	// PurgeSchedule is a cron expression for the expired token janitor
	PurgeSchedule string `yaml:"purgeSchedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"logLevel"`
	MetricsEnabled bool                   `yaml:"metricsEnabled"`
	// AuditLogFile receives security audit events as JSON lines in addition
	// to the application log
	AuditLogFile string `yaml:"auditLogFile"`

	OTelEnabled     bool    `yaml:"otelEnabled"`
	OTelEndpoint    string  `yaml:"otelEndpoint"`
	OTelServiceName string  `yaml:"otelServiceName"`
	OTelInsecure    bool    `yaml:"otelInsecure"`
	OTelSampleRatio float64 `yaml:"otelSampleRatio"`
}

// Default returns the configuration used before the YAML file and environment apply
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8000",
			PublicURL:       "http://localhost:8000",
			CORSOrigins:     []string{"http://localhost:5173"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			OpsPort:         "9090",
		},
		Database: DatabaseConfig{MaxConns: 25, MinConns: 5},
		Mail:     MailConfig{Port: 587, RetryAttempts: 3, Timeout: 10 * time.Second},
		S3:       S3Config{Region: "us-east-1"},
		Redis:    RedisConfig{PoolSize: 10},
		RateLimits: RateLimitConfig{
			API:   budget(middleware.APIRateLimit()),
			Auth:  budget(middleware.AuthRateLimit()),
			Email: budget(middleware.EmailRateLimit()),
		},
		Jobs: JobsConfig{PurgeSchedule: "@every 10m"},
		Observability: ObservabilityConfig{
			LogLevelName:    "info",
			MetricsEnabled:  true,
			OTelEndpoint:    "localhost:4317",
			OTelServiceName: "taskboard",
			OTelInsecure:    true,
			OTelSampleRatio: 1,
		},
	}
}

func budget(c middleware.RateLimitConfig) Budget {
	return Budget{Requests: c.Requests, Window: c.Window}
}

// MissingError lists every required setting that has no value
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// LoadConfig loads defaults, the optional YAML file named by TASKBOARD_CONFIG_FILE,
// then environment variables, and validates the result
func LoadConfig() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load is LoadConfig with an injectable environment
func Load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup(EnvPrefix + "CONFIG_FILE"); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	env := envReader{lookup: lookup}
	env.apply(cfg)
	if len(env.errs) > 0 {
		return nil, errors.Join(env.errs...)
	}

	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(dst *[]string, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(dst *bool, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, key, v))
		return
	}
	*dst = b
}

func (e *envReader) integer(dst *int, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, v))
		return
	}
	*dst = n
}

func (e *envReader) float(dst *float64, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid number %q", EnvPrefix, key, v))
		return
	}
	*dst = f
}

func (e *envReader) duration(dst *time.Duration, key string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}

func (e *envReader) apply(c *Config) {
	e.str(&c.Server.Host, "HOST")
	e.str(&c.Server.Port, "PORT")
	e.str(&c.Server.PublicURL, "PUBLIC_URL")
	e.list(&c.Server.CORSOrigins, "CORS_ORIGIN")
	e.list(&c.Server.TrustedProxies, "TRUSTED_PROXIES")
	e.boolean(&c.Server.CookieSecure, "COOKIE_SECURE")
	e.duration(&c.Server.ReadTimeout, "READ_TIMEOUT")
	e.duration(&c.Server.WriteTimeout, "WRITE_TIMEOUT")
	e.duration(&c.Server.IdleTimeout, "IDLE_TIMEOUT")
	e.duration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	e.str(&c.Server.OpsPort, "OPS_PORT")

	e.str(&c.Database.URL, "DATABASE_URL")
	e.list(&c.Database.ReplicaURLs, "DATABASE_REPLICA_URLS")
	e.integer(&c.Database.MaxConns, "DATABASE_MAX_CONNS")
	e.integer(&c.Database.MinConns, "DATABASE_MIN_CONNS")

	e.str(&c.Tokens.AccessSecret, "ACCESS_TOKEN_SECRET")
	e.duration(&c.Tokens.AccessExpiry, "ACCESS_TOKEN_EXPIRY")
	e.str(&c.Tokens.RefreshSecret, "REFRESH_TOKEN_SECRET")
	e.duration(&c.Tokens.RefreshExpiry, "REFRESH_TOKEN_EXPIRY")

	e.str(&c.Mail.Host, "SMTP_HOST")
	e.integer(&c.Mail.Port, "SMTP_PORT")
	e.str(&c.Mail.Username, "SMTP_USERNAME")
	e.str(&c.Mail.Password, "SMTP_PASSWORD")
	e.str(&c.Mail.From, "MAIL_FROM")
	e.integer(&c.Mail.RetryAttempts, "MAIL_RETRY_ATTEMPTS")

	e.str(&c.S3.Bucket, "S3_BUCKET")
	e.str(&c.S3.Region, "S3_REGION")
	e.str(&c.S3.Endpoint, "S3_ENDPOINT")
	e.str(&c.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	e.str(&c.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	e.boolean(&c.S3.UsePathStyle, "S3_USE_PATH_STYLE")
	e.str(&c.S3.PublicBaseURL, "S3_PUBLIC_BASE_URL")

	e.str(&c.Redis.URL, "REDIS_URL")
	e.integer(&c.Redis.PoolSize, "REDIS_POOL_SIZE")

	e.integer(&c.RateLimits.API.Requests, "RATE_LIMIT_API_REQUESTS")
	e.duration(&c.RateLimits.API.Window, "RATE_LIMIT_API_WINDOW")
	e.integer(&c.RateLimits.Auth.Requests, "RATE_LIMIT_AUTH_REQUESTS")
	e.duration(&c.RateLimits.Auth.Window, "RATE_LIMIT_AUTH_WINDOW")
	e.integer(&c.RateLimits.Email.Requests, "RATE_LIMIT_EMAIL_REQUESTS")
	e.duration(&c.RateLimits.Email.Window, "RATE_LIMIT_EMAIL_WINDOW")

	e.str(&c.Jobs.PurgeSchedule, "TOKEN_PURGE_SCHEDULE")

	e.str(&c.Observability.LogLevelName, "LOG_LEVEL")
	e.boolean(&c.Observability.MetricsEnabled, "METRICS_ENABLED")
	e.str(&c.Observability.AuditLogFile, "AUDIT_LOG_FILE")
	e.boolean(&c.Observability.OTelEnabled, "OTEL_ENABLED")
	e.str(&c.Observability.OTelEndpoint, "OTEL_ENDPOINT")
	e.str(&c.Observability.OTelServiceName, "OTEL_SERVICE_NAME")
	e.boolean(&c.Observability.OTelInsecure, "OTEL_INSECURE")
	e.float(&c.Observability.OTelSampleRatio, "OTEL_SAMPLE_RATIO")
}

// ParseDuration accepts Go durations plus a day suffix, so "1d" and "10d" work
func ParseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func (c *Config) missing() []string {
	required := []struct {
		key string
		set bool
	}{
		{"DATABASE_URL", c.Database.URL != ""},
		{"ACCESS_TOKEN_SECRET", c.Tokens.AccessSecret != ""},
		{"ACCESS_TOKEN_EXPIRY", c.Tokens.AccessExpiry > 0},
		{"REFRESH_TOKEN_SECRET", c.Tokens.RefreshSecret != ""},
		{"REFRESH_TOKEN_EXPIRY", c.Tokens.RefreshExpiry > 0},
		{"SMTP_HOST", c.Mail.Host != ""},
		{"SMTP_USERNAME", c.Mail.Username != ""},
		{"SMTP_PASSWORD", c.Mail.Password != ""},
		{"MAIL_FROM", c.Mail.From != ""},
		{"S3_BUCKET", c.S3.Bucket != ""},
		{"S3_ACCESS_KEY_ID", c.S3.AccessKeyID != ""},
		{"S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey != ""},
	}
	var keys []string
	for _, r := range required {
		if !r.set {
			keys = append(keys, EnvPrefix+r.key)
		}
	}
	return keys
}

// Validate reports every missing required setting at once, then checks values
func (c *Config) Validate() error {
	if keys := c.missing(); len(keys) > 0 {
		return &MissingError{Keys: keys}
	}

	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.OpsPort != "" && c.Server.Port == c.Server.OpsPort {
		errs = append(errs, errors.New("server port and ops port must be different"))
	}
	if _, err := c.Server.Proxies(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Tokens.AccessSecret) < MinSecretLength || len(c.Tokens.RefreshSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("token secrets must be at least %d bytes", MinSecretLength))
	}
	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.Tokens.RefreshExpiry < c.Tokens.AccessExpiry {
		errs = append(errs, errors.New("refresh token expiry must not be shorter than access token expiry"))
	}
	for name, b := range map[string]Budget{"api": c.RateLimits.API, "auth": c.RateLimits.Auth, "email": c.RateLimits.Email} {
		if b.Requests <= 0 || b.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate limit %s needs a positive request count and window", name))
		}
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
	}
	return errors.Join(errs...)
}

// Addr is the API listen address
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// OpsAddr is the metrics and probe listen address
func (c ServerConfig) OpsAddr() string {
	return net.JoinHostPort(c.Host, c.OpsPort)
}

// Proxies parses TrustedProxies; an empty list trusts no forwarded header
func (c ServerConfig) Proxies() (httputil.TrustedProxies, error) {
	return httputil.ParseTrustedProxies(c.TrustedProxies)
}

func (c *Config) TokenSettings() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:  c.Tokens.AccessSecret,
		AccessTTL:     c.Tokens.AccessExpiry,
		RefreshSecret: c.Tokens.RefreshSecret,
		RefreshTTL:    c.Tokens.RefreshExpiry,
	}
}

func (c *Config) Postgres() postgres.ConnectionConfig {
	cc := postgres.DefaultConnectionConfig(c.Database.URL)
	cc.ReplicaURLs = c.Database.ReplicaURLs
	if c.Database.MaxConns > 0 {
		cc.MaxConns = c.Database.MaxConns
	}
	if c.Database.MinConns > 0 {
		cc.MinConns = c.Database.MinConns
	}
	return cc
}

func (c *Config) SMTP() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		From:     c.Mail.From,
		Timeout:  c.Mail.Timeout,
	}
}

func (c *Config) MailRetry() mail.RetryConfig {
	r := mail.DefaultRetryConfig()
	if c.Mail.RetryAttempts > 0 {
		r.Attempts = c.Mail.RetryAttempts
	}
	return r
}

func (c *Config) Blob() blob.Config {
	return blob.Config{
		Bucket:          c.S3.Bucket,
		Region:          c.S3.Region,
		Endpoint:        c.S3.Endpoint,
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: c.S3.SecretAccessKey,
		UsePathStyle:    c.S3.UsePathStyle,
		PublicBaseURL:   c.S3.PublicBaseURL,
	}
}

// RedisEnabled reports whether a Redis URL was configured
func (c *Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}

func (c *Config) RedisClient() redisclient.Config {
	return redisclient.Config{URL: c.Redis.URL, PoolSize: c.Redis.PoolSize}
}

// Limits returns the api, auth and email rate limit budgets
func (c *Config) Limits() (api, authLimit, email middleware.RateLimitConfig) {
	api, authLimit, email = middleware.APIRateLimit(), middleware.AuthRateLimit(), middleware.EmailRateLimit()
	api.Requests, api.Window = c.RateLimits.API.Requests, c.RateLimits.API.Window
	authLimit.Requests, authLimit.Window = c.RateLimits.Auth.Requests, c.RateLimits.Auth.Window
	email.Requests, email.Window = c.RateLimits.Email.Requests, c.RateLimits.Email.Window
	return api, authLimit, email
}

func (c *Config) OTel(version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}
