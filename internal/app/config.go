package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverFile     = "file"
	StorageDriverPostgres = "postgres"
	StorageDriverDynamoDB = "dynamodb"
)

// Платёжные провайдеры.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderMock   = "mock"
)

// DeployTargetServerless — окружение без записываемого диска.
const DeployTargetServerless = "serverless"

// Config описывает настройки запуска витрины. Значения читаются из окружения.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	StorageDriver  string        `envconfig:"STORAGE_DRIVER" default:"memory"`
	DataDir        string        `envconfig:"DATA_DIR" default:"data"`
	DeployTarget   string        `envconfig:"DEPLOY_TARGET"`
	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s"`

	PostgresDSN         string `envconfig:"DATABASE_URL"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`

	DynamoTable    string `envconfig:"DYNAMODB_TABLE" default:"dormside"`
	DynamoEndpoint string `envconfig:"DYNAMODB_ENDPOINT"`
	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`

	PaymentProvider string        `envconfig:"PAYMENT_PROVIDER" default:"stripe"`
	StripeSecretKey string        `envconfig:"STRIPE_SECRET_KEY"`
	GatewayTimeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	Currency        string        `envconfig:"CURRENCY" default:"usd"`

	AdminUsername string `envconfig:"ADMIN_USERNAME"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	SessionSecret string `envconfig:"ADMIN_SESSION_SECRET"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	KafkaBrokers       string        `envconfig:"KAFKA_BROKERS"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"50ms"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"10m"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`

	PendingOrderTTL      time.Duration `envconfig:"PENDING_ORDER_TTL" default:"0s"`
	PendingSweepInterval time.Duration `envconfig:"PENDING_SWEEP_INTERVAL" default:"5m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: память, Stripe, без Kafka.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		DataDir:                     "data",
		StorageTimeout:              5 * time.Second,
		PostgresAutoMigrate:         true,
		DynamoTable:                 "dormside",
		AWSRegion:                   "us-east-1",
		PaymentProvider:             PaymentProviderStripe,
		GatewayTimeout:              10 * time.Second,
		Currency:                    "usd",
		RequestTimeout:              30 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		PendingSweepInterval:        5 * time.Minute,
		LogLevel:                    "info",
		LogFormat:                   "text",
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.PaymentProvider = strings.ToLower(strings.TrimSpace(c.PaymentProvider))
	c.DeployTarget = strings.ToLower(strings.TrimSpace(c.DeployTarget))
	c.PostgresDSN = strings.TrimSpace(c.PostgresDSN)
	c.StripeSecretKey = strings.TrimSpace(c.StripeSecretKey)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory, StorageDriverFile:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	case StorageDriverDynamoDB:
		if strings.TrimSpace(c.DynamoTable) == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required for dynamodb storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.PaymentProvider {
	case PaymentProviderMock:
	case PaymentProviderStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe payment provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported payment provider %q", c.PaymentProvider))
	}

	if c.AdminUsername != "" && strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("ADMIN_SESSION_SECRET is required when ADMIN_USERNAME is set"))
	}
	if c.PendingOrderTTL < 0 {
		errs = append(errs, errors.New("PENDING_ORDER_TTL must be >= 0"))
	}

	return errors.Join(errs...)
}

// ReadOnlyStorage сообщает, что файловое хранилище должно работать только на чтение.
func (c Config) ReadOnlyStorage() bool {
	return c.DeployTarget == DeployTargetServerless
}

// Brokers возвращает список брокеров Kafka.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
