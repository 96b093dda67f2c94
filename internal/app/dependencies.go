package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/dormside/internal/health"
	"github.com/vladislavdragonenkov/dormside/internal/service/payment"
	"github.com/vladislavdragonenkov/dormside/internal/storage/dynamo"
	"github.com/vladislavdragonenkov/dormside/internal/storage/file"
	"github.com/vladislavdragonenkov/dormside/internal/storage/memory"
	"github.com/vladislavdragonenkov/dormside/internal/storage/postgres"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// runtimeDependencies — хранилища выбранного драйвера и функция их закрытия.
type runtimeDependencies struct {
	orders          domain.OrderRepository
	settings        domain.SettingsRepository
	menu            domain.MenuRepository
	idempotencyRepo domain.IdempotencyRepository
	outboxRepo      domain.OutboxRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies открывает хранилище по STORAGE_DRIVER.
// Для file и dynamodb ключи идемпотентности и outbox живут в памяти процесса.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			orders:          memory.NewOrderRepository(),
			settings:        memory.NewSettingsRepository(),
			menu:            memory.NewMenuRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverFile:
		store, err := file.Open(cfg.DataDir, cfg.ReadOnlyStorage())
		if err != nil {
			return nil, fmt.Errorf("open file storage: %w", err)
		}
		logger.WithFields(log.Fields{
			"data_dir":  store.Dir(),
			"read_only": store.ReadOnly(),
		}).Info("using file storage")
		return &runtimeDependencies{
			orders:          file.NewOrderRepository(store),
			settings:        file.NewSettingsRepository(store),
			menu:            file.NewMenuRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			storageChecker: healthcheck.NewChecker("storage", func(context.Context) error {
				return store.Ping()
			}),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires DATABASE_URL")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithOperationTimeout(cfg.StorageTimeout))
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return &runtimeDependencies{
			orders:          postgres.NewOrderRepository(store),
			settings:        postgres.NewSettingsRepository(store),
			menu:            postgres.NewMenuRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			storageChecker:  healthcheck.NewChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	case StorageDriverDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, fmt.Errorf("create dynamodb client: %w", err)
		}
		store := dynamo.NewStore(client, cfg.DynamoTable, cfg.StorageTimeout)
		logger.WithFields(log.Fields{
			"table":  cfg.DynamoTable,
			"region": cfg.AWSRegion,
		}).Info("using dynamodb storage")
		return &runtimeDependencies{
			orders:          dynamo.NewOrderRepository(store),
			settings:        dynamo.NewSettingsRepository(store),
			menu:            dynamo.NewMenuRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			storageChecker:  healthcheck.NewChecker("storage", store.Ping),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initPaymentGateway создаёт шлюз по PAYMENT_PROVIDER и оборачивает его circuit breaker'ом.
func initPaymentGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, *payment.CircuitBreaker, error) {
	var gateway domain.PaymentGateway
	switch cfg.PaymentProvider {
	case PaymentProviderMock:
		logger.Warn("using mock payment gateway, card payments are simulated")
		gateway = payment.NewMockService()
	case "", PaymentProviderStripe:
		stripeGateway, err := payment.NewStripeGateway(payment.StripeConfig{
			APIKey:  cfg.StripeSecretKey,
			Timeout: cfg.GatewayTimeout,
			Logger:  logger.WithField("component", "stripe-gateway"),
		})
		if err != nil {
			return nil, nil, err
		}
		gateway = stripeGateway
	default:
		return nil, nil, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}

	breaker := payment.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger.WithField("component", "payment-breaker"))
	return payment.NewBreakerGateway(gateway, breaker), breaker, nil
}
