package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa
 * Every key has a default so AutomaticEnv can override any of them
 */

type Config struct {
	Port      string `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	RoutesFile      string `mapstructure:"ROUTES_FILE"`
	N8NSharedSecret string `mapstructure:"N8N_SHARED_SECRET"`
	WebhookSource   string `mapstructure:"WEBHOOK_SOURCE"`
	HubVerifyToken  string `mapstructure:"HUB_VERIFY_TOKEN"`
	HubAppSecret    string `mapstructure:"HUB_APP_SECRET"` // comma-separated during rotation

	LoopSoftLimit          int           `mapstructure:"LOOP_SOFT_LIMIT"`
	LoopHardLimit          int           `mapstructure:"LOOP_HARD_LIMIT"`
	LoopQuietWindow        time.Duration `mapstructure:"LOOP_QUIET_WINDOW"`
	LoopThrottleDelay      time.Duration `mapstructure:"LOOP_THROTTLE_DELAY"`
	ConversationRateLimit  int           `mapstructure:"CONVERSATION_RATE_LIMIT"`
	ConversationRateWindow time.Duration `mapstructure:"CONVERSATION_RATE_WINDOW"`
	CallbackRateLimit      int           `mapstructure:"CALLBACK_RATE_LIMIT"`

	MonitorCapacity      int           `mapstructure:"MONITOR_CAPACITY"`
	SlowRequestThreshold time.Duration `mapstructure:"SLOW_REQUEST_THRESHOLD"`

	AlertWindow              time.Duration `mapstructure:"ALERT_WINDOW"`
	AlertInterval            time.Duration `mapstructure:"ALERT_INTERVAL"`
	AlertMinSuccessRate      float64       `mapstructure:"ALERT_MIN_SUCCESS_RATE"`
	AlertCriticalSuccessRate float64       `mapstructure:"ALERT_CRITICAL_SUCCESS_RATE"`
	AlertMaxAvgLatency       time.Duration `mapstructure:"ALERT_MAX_AVG_LATENCY"`
	AlertCriticalAvgLatency  time.Duration `mapstructure:"ALERT_CRITICAL_AVG_LATENCY"`
	AlertMaxClientErrors     int           `mapstructure:"ALERT_MAX_CLIENT_ERRORS"`

	DispatchWorkers       int     `mapstructure:"DISPATCH_WORKERS"`
	DispatchRatePerSecond float64 `mapstructure:"DISPATCH_RATE_PER_SECOND"`

	RealtimeURL    string        `mapstructure:"REALTIME_URL"`
	RealtimeAPIKey string        `mapstructure:"REALTIME_API_KEY"`
	StormWindow    time.Duration `mapstructure:"STORM_WINDOW"`
	StormThreshold int           `mapstructure:"STORM_THRESHOLD"`

	RealtimeClientToken    string   `mapstructure:"REALTIME_CLIENT_TOKEN"`
	RealtimeResources      []string `mapstructure:"REALTIME_RESOURCES"`
	RealtimeAllowedOrigins []string `mapstructure:"REALTIME_ALLOWED_ORIGINS"`

	InstanceCacheTTL time.Duration `mapstructure:"INSTANCE_CACHE_TTL"`
}

var defaults = map[string]any{
	"PORT":       "8080",
	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"ROUTES_FILE":       "routes.yaml",
	"N8N_SHARED_SECRET": "",
	"WEBHOOK_SOURCE":    "webhook-guard",
	"HUB_VERIFY_TOKEN":  "",
	"HUB_APP_SECRET":    "",

	"LOOP_SOFT_LIMIT":          3,
	"LOOP_HARD_LIMIT":          6,
	"LOOP_QUIET_WINDOW":        "2m",
	"LOOP_THROTTLE_DELAY":      "500ms",
	"CONVERSATION_RATE_LIMIT":  30,
	"CONVERSATION_RATE_WINDOW": "1m",
	"CALLBACK_RATE_LIMIT":      120,

	"MONITOR_CAPACITY":       1000,
	"SLOW_REQUEST_THRESHOLD": "5s",

	"ALERT_WINDOW":                "15m",
	"ALERT_INTERVAL":              "1m",
	"ALERT_MIN_SUCCESS_RATE":      0.95,
	"ALERT_CRITICAL_SUCCESS_RATE": 0.80,
	"ALERT_MAX_AVG_LATENCY":       "5s",
	"ALERT_CRITICAL_AVG_LATENCY":  "10s",
	"ALERT_MAX_CLIENT_ERRORS":     5,

	"DISPATCH_WORKERS":         32,
	"DISPATCH_RATE_PER_SECOND": 0.0,

	"REALTIME_URL":     "",
	"REALTIME_API_KEY": "",
	"STORM_WINDOW":     "30s",
	"STORM_THRESHOLD":  10,

	"REALTIME_CLIENT_TOKEN":    "",
	"REALTIME_RESOURCES":       "whatsapp_instances,contacts,messages,conversations",
	"REALTIME_ALLOWED_ORIGINS": "",

	"INSTANCE_CACHE_TTL": "5m",
}

// GetConfig reads .env from the working directory and the environment
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads <dir>/.env (toml) when present, then the environment.
// A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}

// HubAppSecrets returns the inbound signing secrets, current first
func (c *Config) HubAppSecrets() []string {
	var secrets []string
	for _, s := range strings.Split(c.HubAppSecret, ",") {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.LoopSoftLimit < 1 {
		return errors.New("LOOP_SOFT_LIMIT must be at least 1")
	}
	if c.LoopHardLimit <= c.LoopSoftLimit {
		return fmt.Errorf("LOOP_HARD_LIMIT (%d) must be greater than LOOP_SOFT_LIMIT (%d)", c.LoopHardLimit, c.LoopSoftLimit)
	}
	if c.LoopQuietWindow <= 0 {
		return errors.New("LOOP_QUIET_WINDOW must be positive")
	}
	if c.MonitorCapacity < 1 {
		return errors.New("MONITOR_CAPACITY must be at least 1")
	}
	if c.AlertCriticalSuccessRate > c.AlertMinSuccessRate {
		return errors.New("ALERT_CRITICAL_SUCCESS_RATE cannot exceed ALERT_MIN_SUCCESS_RATE")
	}
	if c.AlertInterval <= 0 || c.AlertWindow <= 0 {
		return errors.New("ALERT_INTERVAL and ALERT_WINDOW must be positive")
	}
	if c.StormThreshold < 1 || c.StormWindow <= 0 {
		return errors.New("STORM_THRESHOLD and STORM_WINDOW must be positive")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}
