package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/dormside/internal/auth"
	healthcheck "github.com/vladislavdragonenkov/dormside/internal/health"
	"github.com/vladislavdragonenkov/dormside/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dormside/internal/metrics"
	"github.com/vladislavdragonenkov/dormside/internal/service/httpsvc"
	"github.com/vladislavdragonenkov/dormside/internal/service/idempotency"
	"github.com/vladislavdragonenkov/dormside/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/dormside/internal/service/outbox"
	"github.com/vladislavdragonenkov/dormside/internal/service/payment"
	"github.com/vladislavdragonenkov/dormside/internal/service/reconcile"
	"github.com/vladislavdragonenkov/dormside/internal/service/storestatus"
	"github.com/vladislavdragonenkov/dormside/internal/version"
)

const shutdownTimeout = 5 * time.Second

// application — собранный граф зависимостей витрины.
type application struct {
	cfg    Config
	logger *log.Entry

	deps       *runtimeDependencies
	producer   *kafka.Producer
	breaker    *payment.CircuitBreaker
	controller *lifecycle.Controller
	api        *httpsvc.Server
	health     *healthcheck.Handler
	workers    map[string]func(context.Context)
}

// newApplication открывает хранилище, платёжный шлюз и брокер и связывает сервисы.
func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway, breaker, err := initPaymentGateway(cfg, logger)
	if err != nil {
		deps.close(logger)
		return nil, err
	}

	// Ошибка подключения к Kafka не фатальна: события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.Brokers(), logger)
	publisher, dlqPublisher := outboxPublishers(producer)

	checkoutMetrics := metrics.NewCheckoutMetrics()
	store := storestatus.NewService(deps.settings, checkoutMetrics, logger.WithField("component", "store-status"))

	controllerOpts := []lifecycle.Option{
		lifecycle.WithLogger(logger.WithField("component", "order-lifecycle")),
		lifecycle.WithMetrics(checkoutMetrics),
		lifecycle.WithCurrency(cfg.Currency),
	}
	// Без брокера события пишутся только в постоянный outbox, чтобы не копить их в памяти.
	if publisher != nil || cfg.StorageDriver == StorageDriverPostgres {
		controllerOpts = append(controllerOpts, lifecycle.WithOutbox(deps.outboxRepo))
	}
	controller := lifecycle.NewController(deps.orders, store, gateway, controllerOpts...)

	sessions := auth.NewSessions(auth.Config{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Secret:   cfg.SessionSecret,
	})
	if !sessions.Configured() {
		logger.Warn("admin credentials are not configured, admin endpoints will reject every request")
	}

	api := httpsvc.NewServer(httpsvc.Deps{
		Orders:         controller,
		Store:          store,
		Menu:           deps.menu,
		Sessions:       sessions,
		Guard:          idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency-guard")),
		Logger:         logger.WithField("component", "http"),
		RequestTimeout: cfg.RequestTimeout,
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("payments", healthcheck.NewOptionalChecker("payments", func(context.Context) error {
		if breaker.State() == payment.CircuitOpen {
			return errors.New("payment gateway circuit breaker is open")
		}
		return nil
	}))
	if publisher != nil {
		healthHandler.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
			_, err := deps.outboxRepo.Stats(ctx)
			return err
		}))
	}

	workers := map[string]func(context.Context){
		"idempotency-cleanup": idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		).Run,
	}
	if publisher != nil {
		workers["outbox"] = outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		).Run
	}
	if cfg.PendingOrderTTL > 0 {
		workers["reconcile"] = reconcile.NewWorker(controller, cfg.PendingOrderTTL,
			reconcile.WithLogger(logger.WithField("component", "reconcile-worker")),
			reconcile.WithMetrics(checkoutMetrics),
			reconcile.WithInterval(cfg.PendingSweepInterval),
		).Run
	}

	return &application{
		cfg:        cfg,
		logger:     logger,
		deps:       deps,
		producer:   producer,
		breaker:    breaker,
		controller: controller,
		api:        api,
		health:     healthHandler,
		workers:    workers,
	}, nil
}

// startWorkers запускает фоновые воркеры; возвращённая функция останавливает их и ждёт завершения.
func (a *application) startWorkers(ctx context.Context) func() {
	workerCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for name, run := range a.workers {
		wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer wg.Done()
			a.logger.WithField("worker", name).Info("worker started")
			run(workerCtx)
			a.logger.WithField("worker", name).Info("worker stopped")
		}(name, run)
	}

	return func() {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			a.logger.Warn("workers did not stop in time")
		}
	}
}

func (a *application) close() {
	closeKafkaProducer(a.producer, a.logger)
	a.deps.close(a.logger)
}

// Run поднимает HTTP API, gRPC health, ops-сервер и воркеры; блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, a.health)
	stopWorkers := a.startWorkers(ctx)

	apiSrv := &http.Server{
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := apiSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdown := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopWorkers()

		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdownHTTP(metricsSrv, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает ops-сервер: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
