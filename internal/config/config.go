package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     string          `mapstructure:"store"` // postgres | memory
	Queue     string          `mapstructure:"queue"` // redis | memory
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Keycloak  KeycloakConfig  `mapstructure:"keycloak"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Push      PushConfig      `mapstructure:"push"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Env          string   `mapstructure:"env"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroupID string   `mapstructure:"consumer_group_id"`
	// Topics defaults to every topic with a registered handler.
	Topics []string `mapstructure:"topics"`
}

type KeycloakConfig struct {
	// BaseURL empty disables tenant liveness checks and role expansion.
	BaseURL string `mapstructure:"base_url"`
	// AdminRealm is the realm used to obtain admin access tokens (usually "master").
	AdminRealm        string        `mapstructure:"admin_realm"`
	AdminClientID     string        `mapstructure:"admin_client_id"`
	AdminClientSecret string        `mapstructure:"admin_client_secret"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type GatewayConfig struct {
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type MonitorConfig struct {
	HealthInterval         time.Duration `mapstructure:"health_interval"`
	SnapshotInterval       time.Duration `mapstructure:"snapshot_interval"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	StaleAfter             time.Duration `mapstructure:"stale_after"`
	SweepBatch             int           `mapstructure:"sweep_batch"`
	WarnConnections        int           `mapstructure:"warn_connections"`
	CriticalConnections    int           `mapstructure:"critical_connections"`
	TenantMax              int           `mapstructure:"tenant_max"`
	SpikeFactor            float64       `mapstructure:"spike_factor"`
	SpikeFloor             int           `mapstructure:"spike_floor"`
	ConcentrationThreshold float64       `mapstructure:"concentration_threshold"`
	ConcentrationMinTotal  int           `mapstructure:"concentration_min_total"`
	HistorySize            int           `mapstructure:"history_size"`
}

type DispatchConfig struct {
	BulkBatchSize  int           `mapstructure:"bulk_batch_size"`
	BulkBatchDelay time.Duration `mapstructure:"bulk_batch_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	Workers        int           `mapstructure:"workers"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type WebhookConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	BaseURL    string `mapstructure:"base_url"`
}

type PushConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type RetentionConfig struct {
	Days          int           `mapstructure:"days"` // Default: 30
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: REALTIME_
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variables (e.g. REALTIME_DATABASE_HOST -> database.host)
	v.SetEnvPrefix("REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("keycloak.base_url", "KEYCLOAK_URL")
	v.BindEnv("keycloak.admin_realm", "KEYCLOAK_ADMIN_REALM")
	v.BindEnv("keycloak.admin_client_id", "KEYCLOAK_ADMIN_CLIENT_ID")
	v.BindEnv("keycloak.admin_client_secret", "KEYCLOAK_ADMIN_CLIENT_SECRET")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	// Comma-separated env values arrive as a single element.
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Kafka.Topics = splitList(cfg.Kafka.Topics)
	cfg.Server.AllowOrigins = splitList(cfg.Server.AllowOrigins)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.env", "development")
	v.SetDefault("store", "postgres")
	v.SetDefault("queue", "redis")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "arda_realtime")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "arda-realtime-group")

	v.SetDefault("keycloak.admin_realm", "master")
	v.SetDefault("keycloak.admin_client_id", "arda-realtime-service")
	v.SetDefault("keycloak.cache_ttl", 5*time.Minute)

	v.SetDefault("gateway.auth_timeout", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.write_timeout", 10*time.Second)
	v.SetDefault("gateway.send_buffer", 64)

	v.SetDefault("monitor.health_interval", 30*time.Second)
	v.SetDefault("monitor.snapshot_interval", 5*time.Minute)
	v.SetDefault("monitor.sweep_interval", time.Minute)
	v.SetDefault("monitor.stale_after", 5*time.Minute)
	v.SetDefault("monitor.warn_connections", 8000)
	v.SetDefault("monitor.critical_connections", 10000)
	v.SetDefault("monitor.tenant_max", 1000)
	v.SetDefault("monitor.spike_factor", 2.0)
	v.SetDefault("monitor.spike_floor", 100)
	v.SetDefault("monitor.concentration_threshold", 0.5)
	v.SetDefault("monitor.concentration_min_total", 10)
	v.SetDefault("monitor.sweep_batch", 500)
	v.SetDefault("monitor.history_size", 100)

	v.SetDefault("dispatch.bulk_batch_size", 100)
	v.SetDefault("dispatch.bulk_batch_delay", 100*time.Millisecond)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.poll_interval", 500*time.Millisecond)

	v.SetDefault("webhook.timeout", 30*time.Second)

	v.SetDefault("email.port", "587")
	v.SetDefault("sms.base_url", "https://api.twilio.com")

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.purge_interval", 24*time.Hour)
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=" + d.SSLMode
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
