package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr              string `mapstructure:"addr"`
	WebhookPathPrefix string `mapstructure:"webhook_path_prefix"`
	Provider          string `mapstructure:"provider"`
	UUIDHeaderName    string `mapstructure:"uuid_header_name"`
	ModelsHeaderName  string `mapstructure:"models_header_name"`

	// TrackingEvents narrows which canonical kinds the drivers register
	// interest in when provisioning. Empty means all of them.
	TrackingEvents []string `mapstructure:"tracking_events"`

	DBDriver   string `mapstructure:"db_driver"`
	DBDSN      string `mapstructure:"db_dsn"`
	DBDialect  string `mapstructure:"db_dialect"`
	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBName     string `mapstructure:"db_name"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`

	BounceRate BounceRateConfig `mapstructure:"bounce_rate"`
	SES        SESConfig        `mapstructure:"ses"`
	Postmark   PostmarkConfig   `mapstructure:"postmark"`
	TLS        TLSConfig        `mapstructure:"tls"`
}

type BounceRateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	Window    int     `mapstructure:"window"`
}

type SESConfig struct {
	Region           string        `mapstructure:"region"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	ResourcePrefix   string        `mapstructure:"resource_prefix"`
	SubscriptionWait time.Duration `mapstructure:"subscription_wait"`
}

type PostmarkConfig struct {
	ServerToken   string `mapstructure:"server_token"`
	WebhookToken  string `mapstructure:"webhook_token"`
	WebhookURL    string `mapstructure:"webhook_url"`
	MessageStream string `mapstructure:"message_stream"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func LoadFromEnv() Config {
	v := viper.New()
	v.SetEnvPrefix("MAILWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("webhook_path_prefix", "/webhooks/mails")
	v.SetDefault("provider", "")
	v.SetDefault("uuid_header_name", "X-Mails-UUID")
	v.SetDefault("models_header_name", "X-Mails-Models")
	v.SetDefault("bounce_rate.threshold", 0.0)
	v.SetDefault("bounce_rate.window", 50)
	v.SetDefault("ses.subscription_wait", 5*time.Second)
	v.SetDefault("postmark.message_stream", "outbound")
	v.SetDefault("tls.enabled", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mailwatch/")

	_ = v.ReadInConfig() // ignore if not found

	// Nested keys need explicit bindings for viper to see the env vars.
	v.BindEnv("bounce_rate.threshold", "MAILWATCH_BOUNCE_RATE_THRESHOLD")
	v.BindEnv("bounce_rate.window", "MAILWATCH_BOUNCE_RATE_WINDOW")
	v.BindEnv("ses.region", "MAILWATCH_SES_REGION")
	v.BindEnv("ses.access_key_id", "MAILWATCH_SES_ACCESS_KEY_ID")
	v.BindEnv("ses.secret_access_key", "MAILWATCH_SES_SECRET_ACCESS_KEY")
	v.BindEnv("ses.webhook_url", "MAILWATCH_SES_WEBHOOK_URL")
	v.BindEnv("ses.resource_prefix", "MAILWATCH_SES_RESOURCE_PREFIX")
	v.BindEnv("ses.subscription_wait", "MAILWATCH_SES_SUBSCRIPTION_WAIT")
	v.BindEnv("postmark.server_token", "MAILWATCH_POSTMARK_SERVER_TOKEN")
	v.BindEnv("postmark.webhook_token", "MAILWATCH_POSTMARK_WEBHOOK_TOKEN")
	v.BindEnv("postmark.webhook_url", "MAILWATCH_POSTMARK_WEBHOOK_URL")
	v.BindEnv("postmark.message_stream", "MAILWATCH_POSTMARK_MESSAGE_STREAM")
	v.BindEnv("tls.enabled", "MAILWATCH_TLS_ENABLED")
	v.BindEnv("tls.cert_file", "MAILWATCH_TLS_CERT_FILE")
	v.BindEnv("tls.key_file", "MAILWATCH_TLS_KEY_FILE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		fmt.Printf("Warning: failed to unmarshal config: %v\n", err)
	}

	if raw := strings.TrimSpace(v.GetString("tracking_events")); raw != "" {
		cfg.TrackingEvents = splitList(raw)
	}
	if cfg.DBDialect == "" {
		cfg.DBDialect = cfg.DBDriver
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = buildDSNFromParts(cfg)
	}
	return cfg
}

func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Addr) == "" {
		problems = append(problems, "MAILWATCH_ADDR must not be empty")
	}
	if strings.TrimSpace(c.UUIDHeaderName) == "" {
		problems = append(problems, "MAILWATCH_UUID_HEADER_NAME must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "", "ses", "postmark":
	default:
		problems = append(problems, "MAILWATCH_PROVIDER must be one of: ses, postmark")
	}
	if c.DBDriver != "" && c.DBDSN == "" {
		problems = append(problems, "database connection is not configured; set MAILWATCH_DB_DSN or MAILWATCH_DB_HOST/MAILWATCH_DB_PORT/MAILWATCH_DB_NAME/MAILWATCH_DB_USER/MAILWATCH_DB_PASSWORD")
	}
	if c.DBDSN != "" && c.DBDriver == "" {
		problems = append(problems, "MAILWATCH_DB_DRIVER is required when MAILWATCH_DB_DSN is set")
	}
	if c.BounceRate.Threshold < 0 || c.BounceRate.Threshold > 1 {
		problems = append(problems, "MAILWATCH_BOUNCE_RATE_THRESHOLD must be between 0 and 1")
	}
	if c.BounceRate.Window < 0 {
		problems = append(problems, "MAILWATCH_BOUNCE_RATE_WINDOW must not be negative")
	}
	if sesConfigured(c) && strings.TrimSpace(c.SES.Region) == "" {
		problems = append(problems, "MAILWATCH_SES_REGION is required when SES is configured")
	}
	if strings.TrimSpace(c.Postmark.WebhookToken) != "" && strings.TrimSpace(c.Postmark.ServerToken) == "" {
		problems = append(problems, "MAILWATCH_POSTMARK_SERVER_TOKEN is required when MAILWATCH_POSTMARK_WEBHOOK_TOKEN is set")
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CertFile) == "" {
		problems = append(problems, "MAILWATCH_TLS_CERT_FILE is required when MAILWATCH_TLS_ENABLED=true")
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.KeyFile) == "" {
		problems = append(problems, "MAILWATCH_TLS_KEY_FILE is required when MAILWATCH_TLS_ENABLED=true")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

type StartupSummary struct {
	RepositoryMode    string
	WebhookProviders  []string
	WebhookPathPrefix string
	OutboundProvider  string
	BounceThreshold   float64
	BounceWindow      int
	TLSEnabled        bool
}

func (c Config) Summary() StartupSummary {
	mode := "memory"
	if c.DBDriver != "" && c.DBDSN != "" {
		mode = "sql:" + c.DBDialect
	}
	providers := []string{}
	if sesConfigured(c) {
		providers = append(providers, "ses")
	}
	if strings.TrimSpace(c.Postmark.ServerToken) != "" {
		providers = append(providers, "postmark")
	}
	return StartupSummary{
		RepositoryMode:    mode,
		WebhookProviders:  providers,
		WebhookPathPrefix: c.WebhookPathPrefix,
		OutboundProvider:  c.Provider,
		BounceThreshold:   c.BounceRate.Threshold,
		BounceWindow:      c.BounceRate.Window,
		TLSEnabled:        c.TLS.Enabled,
	}
}

func sesConfigured(c Config) bool {
	return strings.TrimSpace(c.SES.Region) != "" ||
		strings.TrimSpace(c.SES.AccessKeyID) != "" ||
		strings.TrimSpace(c.SES.WebhookURL) != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hasAllDBParts(c Config) bool {
	return strings.TrimSpace(c.DBHost) != "" &&
		strings.TrimSpace(c.DBPort) != "" &&
		strings.TrimSpace(c.DBName) != "" &&
		strings.TrimSpace(c.DBUser) != "" &&
		strings.TrimSpace(c.DBPassword) != ""
}

func buildDSNFromParts(c Config) string {
	if !hasAllDBParts(c) {
		return ""
	}
	port := strings.TrimSpace(c.DBPort)
	if _, err := strconv.Atoi(port); err != nil {
		return ""
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%s", c.DBHost, port),
		Path:   "/" + url.PathEscape(c.DBName),
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}
