package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
		Schema              string `mapstructure:"schema"`
	} `mapstructure:"database"`
	NATS struct {
		Enabled        bool               `mapstructure:"enabled"`
		URL            string             `mapstructure:"url"`
		Webhook        ConsumerNatsConfig `mapstructure:"webhook"`
		RoutingSubject string             `mapstructure:"routingSubject"` // Base subject for routing events (e.g., v1.routing.resolved)
		DLQSubject     string             `mapstructure:"dlqSubject"`     // Subject for messages that exhausted delivery
		DLQ            DLQConfig          `mapstructure:"dlq"`
		PublishTimeout time.Duration      `mapstructure:"publishTimeout"`
		ReconnectWait  time.Duration      `mapstructure:"reconnectWait"`
	} `mapstructure:"nats"`
	Redis     RedisConfig `mapstructure:"redis"`
	Agent     AgentConfig `mapstructure:"agent"`
	Evolution struct {
		URL     string        `mapstructure:"url"`
		APIKey  string        `mapstructure:"apiKey"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"evolution"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	RateLimit struct {
		Enabled bool    `mapstructure:"enabled"`
		RPS     float64 `mapstructure:"rps"`
		Burst   int     `mapstructure:"burst"`
	} `mapstructure:"rateLimit"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Delivery WorkerPoolConfig `mapstructure:"delivery"`
	} `mapstructure:"workerPools"`
	Cache struct {
		SeenMessages SeenMessagesConfig `mapstructure:"seenMessages"`
	} `mapstructure:"cache"`
}

// RedisConfig holds the optional redis coordination settings.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	LockEnabled bool          `mapstructure:"lockEnabled"` // serialize first resolution per conversation
	LockTTL     time.Duration `mapstructure:"lockTTL"`
	LockWait    time.Duration `mapstructure:"lockWait"`
	HistorySize int           `mapstructure:"historySize"` // turns kept per conversation
	HistoryTTL  time.Duration `mapstructure:"historyTTL"`
}

// AgentConfig holds the settings of the LLM backed agent executor.
type AgentConfig struct {
	BaseURL    string        `mapstructure:"baseURL"`
	APIKey     string        `mapstructure:"apiKey"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"maxRetries"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time a submit waits for a free worker
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// SeenMessagesConfig sizes the bloom filter used to short-circuit redelivered messages.
type SeenMessagesConfig struct {
	ExpectedItems     uint          `mapstructure:"expectedItems"`
	FalsePositiveRate float64       `mapstructure:"falsePositiveRate"`
	ResetInterval     time.Duration `mapstructure:"resetInterval"`
}

// DLQConfig holds the dead letter replay worker settings.
type DLQConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Stream        string        `mapstructure:"stream"`
	Workers       int           `mapstructure:"workers"`
	MaxAgeDays    int           `mapstructure:"maxAgeDays"`
	MaxDeliver    int           `mapstructure:"maxDeliver"`
	MaxRetries    uint64        `mapstructure:"maxRetries"` // replays before the webhook is stored as exhausted
	AckWait       time.Duration `mapstructure:"ackWait"`
	MaxAckPending int           `mapstructure:"maxAckPending"`
	BaseDelay     time.Duration `mapstructure:"baseDelay"`
	MaxDelay      time.Duration `mapstructure:"maxDelay"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// A missing .env file is fine, real deployments inject the environment
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 90*time.Second)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("database.postgresAutoMigrate", false)
	v.SetDefault("database.schema", "public")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.publishTimeout", 5*time.Second)
	v.SetDefault("nats.reconnectWait", 2*time.Second)
	v.SetDefault("nats.webhook.stream", "wa_webhooks")
	v.SetDefault("nats.webhook.consumer", "acertaia_wa_webhook")
	v.SetDefault("nats.webhook.group", "acertaia_wa_webhook_group")
	v.SetDefault("nats.webhook.subjectList", []string{"v1.wa.webhook.>"})
	v.SetDefault("nats.webhook.maxAge", 3)
	v.SetDefault("nats.webhook.maxDeliver", 5)
	v.SetDefault("nats.webhook.nakBaseDelay", time.Second)
	v.SetDefault("nats.webhook.nakMaxDelay", 30*time.Second)
	v.SetDefault("nats.routingSubject", "v1.routing.resolved")
	v.SetDefault("nats.dlqSubject", "v1.dlq.wa")
	v.SetDefault("nats.dlq.enabled", true)
	v.SetDefault("nats.dlq.stream", "wa_dlq")
	v.SetDefault("nats.dlq.workers", 4)
	v.SetDefault("nats.dlq.maxAgeDays", 7)
	v.SetDefault("nats.dlq.maxDeliver", 10)
	v.SetDefault("nats.dlq.maxRetries", 5)
	v.SetDefault("nats.dlq.ackWait", 2*time.Minute)
	v.SetDefault("nats.dlq.maxAckPending", 100)
	v.SetDefault("nats.dlq.baseDelay", time.Minute)
	v.SetDefault("nats.dlq.maxDelay", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.lockEnabled", false)
	v.SetDefault("redis.lockTTL", 90*time.Second)
	v.SetDefault("redis.lockWait", 5*time.Second)
	v.SetDefault("redis.historySize", 20)
	v.SetDefault("redis.historyTTL", 24*time.Hour)

	v.SetDefault("agent.baseURL", "https://api.openai.com/v1")
	v.SetDefault("agent.model", "gpt-4o-mini")
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.maxRetries", 2)

	v.SetDefault("evolution.timeout", 15*time.Second)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.rps", 5.0)
	v.SetDefault("rateLimit.burst", 20)

	v.SetDefault("workerPools.delivery.poolSize", 10)
	v.SetDefault("workerPools.delivery.maxBlock", time.Second)
	v.SetDefault("workerPools.delivery.expiryTime", time.Minute)

	v.SetDefault("cache.seenMessages.expectedItems", 100000)
	v.SetDefault("cache.seenMessages.falsePositiveRate", 0.001)
	v.SetDefault("cache.seenMessages.resetInterval", 6*time.Hour)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.acertaia-api")
	v.AddConfigPath("/etc/acertaia-api")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Names used by existing deployments
	directEnv := map[string]string{
		"DATABASE_URL":     "database.postgresDSN",
		"POSTGRES_DSN":     "database.postgresDSN",
		"LOG_LEVEL":        "logLevel",
		"PORT":             "server.port",
		"NATS_URL":         "nats.url",
		"REDIS_URL":        "redis.url",
		"JWT_SECRET":       "auth.jwtSecret",
		"OPENAI_API_KEY":   "agent.apiKey",
		"OPENAI_BASE_URL":  "agent.baseURL",
		"EVOLUTION_URL":    "evolution.url",
		"EVOLUTION_APIKEY": "evolution.apiKey",
	}
	for env, key := range directEnv {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
