package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/dormside/internal/health"
	"github.com/vladislavdragonenkov/dormside/internal/service/payment"
	"github.com/vladislavdragonenkov/dormside/internal/version"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.PaymentProvider = PaymentProviderMock
	return cfg
}

func findFreePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_StripeRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.PaymentProvider = PaymentProviderStripe

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	deps, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverMemory}, log.WithField("test", "memory"))
	require.NoError(t, err)

	assert.NotNil(t, deps.orders)
	assert.NotNil(t, deps.settings)
	assert.NotNil(t, deps.menu)
	assert.NotNil(t, deps.idempotencyRepo)
	assert.NotNil(t, deps.outboxRepo)
	assert.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
	assert.Nil(t, deps.closeFn)
}

func TestInitRuntimeDependencies_File(t *testing.T) {
	cfg := Config{StorageDriver: StorageDriverFile, DataDir: t.TempDir()}

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "file"))
	require.NoError(t, err)
	assert.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	_, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverPostgres}, log.WithField("test", "postgres"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("DORMSIDE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := Config{StorageDriver: StorageDriverPostgres, PostgresDSN: dsn, PostgresAutoMigrate: true}
	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres"))

	assert.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	_, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: "sqlite"}, log.WithField("test", "unsupported"))
	require.Error(t, err)
}

func TestInitPaymentGateway(t *testing.T) {
	logger := log.WithField("test", "gateway")

	gateway, breaker, err := initPaymentGateway(Config{PaymentProvider: PaymentProviderMock}, logger)
	require.NoError(t, err)
	assert.IsType(t, &payment.BreakerGateway{}, gateway)
	assert.Equal(t, payment.CircuitClosed, breaker.State())

	_, _, err = initPaymentGateway(Config{PaymentProvider: PaymentProviderStripe}, logger)
	require.Error(t, err)

	_, _, err = initPaymentGateway(Config{PaymentProvider: "paypal"}, logger)
	require.Error(t, err)
}

func TestNewApplication_Workers(t *testing.T) {
	logger := log.WithField("test", "workers")

	a, err := newApplication(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer a.close()
	assert.Contains(t, a.workers, "idempotency-cleanup")
	assert.NotContains(t, a.workers, "outbox", "outbox delivery needs a broker")
	assert.NotContains(t, a.workers, "reconcile", "reconciler is disabled without PENDING_ORDER_TTL")

	cfg := testConfig()
	cfg.PendingOrderTTL = time.Hour
	b, err := newApplication(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer b.close()
	assert.Contains(t, b.workers, "reconcile")

	stop := b.startWorkers(context.Background())
	stop()
}

func TestApplication_ServesOrdersFromFileStorage(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = StorageDriverFile
	cfg.DataDir = t.TempDir()

	a, err := newApplication(context.Background(), cfg, log.WithField("test", "api"))
	require.NoError(t, err)
	defer a.close()

	body, err := json.Marshal(map[string]any{
		"fulfillment":   "delivery",
		"paymentMethod": "cash",
		"tip":           0,
		"deliveryFee":   3,
		"total":         12.5,
		"items":         []map[string]any{{"name": "Mac and Cheese", "price": "$9.50", "quantity": 1}},
		"customer":      map[string]string{"name": "Ana", "address": "Dorm B, room 12"},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	orders, err := a.deps.orders.List(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "cash_pending", string(orders[0].Status))
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")
	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startMetricsServer(ctx, addr, logger, healthcheck.NewHandler(version.GetVersion()))
	require.NotNil(t, srv)

	get := func(path string) (int, string) {
		var resp *http.Response
		var err error
		require.Eventually(t, func() bool {
			resp, err = http.Get("http://" + addr + path)
			return err == nil
		}, 2*time.Second, 20*time.Millisecond)
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(data)
	}

	status, body := get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body)

	status, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, status)

	status, body = get("/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, body = get("/readyz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body)
}

func TestShutdownHelpers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	shutdownHTTP(nil, logger)
	closeKafkaProducer(nil, logger)

	producer, err := initKafkaProducer(nil, logger)
	assert.NoError(t, err)
	assert.Nil(t, producer)

	publisher, dlq := outboxPublishers(nil)
	assert.Nil(t, publisher)
	assert.Nil(t, dlq)

	var deps *runtimeDependencies
	deps.close(logger)
}
