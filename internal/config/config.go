package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	// Storage selects the order store: "postgres" or "memory".
	Storage     string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	MercadoPago MercadoPagoConfig
	Tasks       TasksConfig
	WhatsApp    WhatsAppConfig
	SagaLog     SagaLogConfig
	Features    FeatureFlags
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

// URL is the postgres:// form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers     []string
	OrdersTopic string
	GroupID     string
}

// MercadoPagoConfig configures the payment provider.
type MercadoPagoConfig struct {
	BaseURL         string
	AccessToken     string
	PublicKey       string
	NotificationURL string
	Timeout         time.Duration
	MaxRetries      int
}

// TasksConfig configures the downstream task webhook and the ClickUp
// integration behind it.
type TasksConfig struct {
	WebhookURL    string
	InternalToken string
	ClickUpURL    string
	ClickUpToken  string
	ClickUpListID string
	Timeout       time.Duration
}

type WhatsAppConfig struct {
	WebhookSecret string
}

type SagaLogConfig struct {
	Path string
}

type FeatureFlags struct {
	EnableOrderEvents  bool
	EnableOrderCaching bool
	RecoverOnStart     bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnvString("APP_ENV", "development"),
		LogLevel:    getEnvString("LOG_LEVEL", "info"),
		Storage:     getEnvString("STORAGE", "postgres"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8082),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "raposo"),
			Password:     getEnvString("DB_PASSWORD", "raposo"),
			Name:         getEnvString("DB_NAME", "raposo_checkout"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_ORDER_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic: getEnvString("KAFKA_ORDERS_TOPIC", "orders.events"),
			GroupID:     getEnvString("KAFKA_GROUP_ID", "checkout-service"),
		},
		MercadoPago: MercadoPagoConfig{
			BaseURL:         getEnvString("MERCADO_PAGO_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:     getEnvString("MERCADO_PAGO_ACCESS_TOKEN", ""),
			PublicKey:       getEnvString("MERCADO_PAGO_PUBLIC_KEY", ""),
			NotificationURL: getEnvString("MERCADO_PAGO_NOTIFICATION_URL", "http://localhost:8082/api/v1/webhooks/mercadopago"),
			Timeout:         getEnvDuration("MERCADO_PAGO_TIMEOUT", 30*time.Second),
			MaxRetries:      getEnvInt("MERCADO_PAGO_MAX_RETRIES", 3),
		},
		Tasks: TasksConfig{
			WebhookURL:    getEnvString("TASK_WEBHOOK_URL", "http://localhost:8082/api/v1/tasks"),
			InternalToken: getEnvString("TASK_INTERNAL_TOKEN", ""),
			ClickUpURL:    getEnvString("CLICKUP_API_URL", "https://api.clickup.com"),
			ClickUpToken:  getEnvString("CLICKUP_API_TOKEN", ""),
			ClickUpListID: getEnvString("CLICKUP_LIST_ID", ""),
			Timeout:       getEnvDuration("TASK_TIMEOUT", 10*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			WebhookSecret: getEnvString("EVOLUTION_WEBHOOK_SECRET", ""),
		},
		SagaLog: SagaLogConfig{
			Path: getEnvString("SAGA_LOG_PATH", "./data/saga.db"),
		},
		Features: FeatureFlags{
			EnableOrderEvents:  getEnvBool("FEATURE_ORDER_EVENTS", true),
			EnableOrderCaching: getEnvBool("FEATURE_ORDER_CACHING", true),
			RecoverOnStart:     getEnvBool("FEATURE_RECOVER_ON_START", true),
		},
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
