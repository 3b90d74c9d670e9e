package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"kiosk-service/internal/database"

	"go.uber.org/zap"
)

const maxStatusCacheTTL = 5 * time.Second

type Config struct {
	Env      string
	HTTPPort string
	GRPCPort string

	StorageDriver string
	DB            DB
	JWT           JWT
	Redis         Redis
	SMTP          SMTP
	Kafka         Kafka

	Kiosk  Kiosk
	Alerts Alerts
}

type DB struct {
	database.Config
}

type JWT struct {
	Secret   string
	Issuer   string
	Audience string
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type SMTP struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	SSL      bool
}

type Kafka struct {
	Brokers         []string
	AlertTopic      string
	EscalationTopic string
}

type Kiosk struct {
	ConfirmationWindow time.Duration
	PersistenceWindow  time.Duration
	PersistenceRetry   time.Duration
	SweepInterval      time.Duration
	StatusCacheTTL     time.Duration
	HeartbeatInterval  time.Duration
	ClientQueueSize    int
}

type Alerts struct {
	Channel         string // email | kafka | log
	RetryInterval   time.Duration
	SafetyNetEvery  time.Duration
	EscalationAfter time.Duration
	DeliveryTimeout time.Duration
	EventQueueSize  int
	RetryOffsets    []time.Duration
}

func Load(log *zap.Logger) *Config {
	c := &Config{
		Env:           getEnvDefault("ENV", "production"),
		HTTPPort:      getEnvDefault("HTTP_PORT", "8080"),
		GRPCPort:      getEnvDefault("GRPC_PORT", "9090"),
		StorageDriver: getEnvDefault("STORAGE_DRIVER", "postgres"),
		JWT: JWT{
			Secret:   getEnv("JWT_SECRET", log),
			Issuer:   getEnvDefault("JWT_ISSUER", ""),
			Audience: getEnvDefault("JWT_AUDIENCE", ""),
		},
		Redis: Redis{
			Enabled:  getEnvDefault("REDIS_ENABLED", "false") == "true",
			Addr:     getEnvDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvDefault("REDIS_PASSWORD", ""),
			DB:       atoiDefault(getEnvDefault("REDIS_DB", "0"), 0),
		},
		Kafka: Kafka{
			Brokers:         splitAndTrim(os.Getenv("KAFKA_BROKERS")),
			AlertTopic:      getEnvDefault("KAFKA_TOPIC_ALERTS", "kiosk.low-stock"),
			EscalationTopic: getEnvDefault("KAFKA_TOPIC_ESCALATIONS", "kiosk.alerts-escalation"),
		},
		Kiosk: Kiosk{
			ConfirmationWindow: durationDefault("TX_CONFIRMATION_WINDOW", 60*time.Second),
			PersistenceWindow:  durationDefault("TX_PERSISTENCE_WINDOW", 30*time.Second),
			PersistenceRetry:   durationDefault("TX_PERSISTENCE_RETRY", 2*time.Second),
			SweepInterval:      durationDefault("TX_SWEEP_INTERVAL", 5*time.Second),
			StatusCacheTTL:     durationDefault("STATUS_CACHE_TTL", 2*time.Second),
			HeartbeatInterval:  durationDefault("STREAM_HEARTBEAT", 15*time.Second),
			ClientQueueSize:    atoiDefault(getEnvDefault("STREAM_QUEUE_SIZE", "64"), 64),
		},
		Alerts: Alerts{
			Channel:         getEnvDefault("ALERT_CHANNEL", "log"),
			RetryInterval:   durationDefault("ALERT_RETRY_INTERVAL", 15*time.Second),
			SafetyNetEvery:  durationDefault("ALERT_SAFETY_NET_INTERVAL", time.Minute),
			EscalationAfter: durationDefault("ALERT_ESCALATION_AFTER", 15*time.Minute),
			DeliveryTimeout: durationDefault("ALERT_DELIVERY_TIMEOUT", 10*time.Second),
			EventQueueSize:  atoiDefault(getEnvDefault("EVENT_QUEUE_SIZE", "256"), 256),
			RetryOffsets:    []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
		},
	}

	if c.Kiosk.StatusCacheTTL > maxStatusCacheTTL {
		log.Warn("STATUS_CACHE_TTL clamped", zap.Duration("requested", c.Kiosk.StatusCacheTTL), zap.Duration("max", maxStatusCacheTTL))
		c.Kiosk.StatusCacheTTL = maxStatusCacheTTL
	}

	if c.StorageDriver == "postgres" {
		c.DB = DB{
			Config: database.Config{
				Host:            getEnv("DB_HOST", log),
				Port:            getEnv("DB_PORT", log),
				User:            getEnv("DB_USER", log),
				Password:        getEnv("DB_PASSWORD", log),
				Name:            getEnv("DB_NAME", log),
				SSLMode:         getEnvDefault("DB_SSLMODE", "disable"),
				MaxOpenConns:    atoiDefault(getEnvDefault("DB_MAX_OPEN_CONNS", "20"), 20),
				MaxIdleConns:    atoiDefault(getEnvDefault("DB_MAX_IDLE_CONNS", "5"), 5),
				ConnMaxLifetime: durationDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			},
		}
	}

	if c.Alerts.Channel == "email" {
		c.SMTP = SMTP{
			Enabled:  true,
			Host:     getEnv("SMTP_HOST", log),
			Port:     getEnvInt("SMTP_PORT", log),
			User:     getEnv("SMTP_USER", log),
			Password: getEnv("SMTP_PASSWORD", log),
			From:     getEnv("SMTP_FROM", log),
			To:       splitAndTrim(getEnv("ALERT_EMAIL_TO", log)),
			SSL:      getEnvDefault("SMTP_SSL", "true") == "true",
		}
	}

	if c.Alerts.Channel == "kafka" && len(c.Kafka.Brokers) == 0 {
		log.Error("ALERT_CHANNEL=kafka requires KAFKA_BROKERS")
		panic("missing required environment variable: KAFKA_BROKERS")
	}

	return c
}

func (c *Config) IsDev() bool { return c.Env == "development" }

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, log *zap.Logger) int {
	valStr := getEnv(key, log)
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Error("Ошибка преобразования переменной окружения в int", zap.String("key", key), zap.Error(err))
		panic("invalid int value for environment variable: " + key)
	}
	return val
}

func durationDefault(key string, def time.Duration) time.Duration {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		pt := strings.TrimSpace(p)
		if pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
