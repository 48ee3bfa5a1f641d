// Package app собирает сервис: хранилище, движок жизненного цикла, gRPC и HTTP серверы, фоновые воркеры.
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

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/service/expiry"
	grpcsvc "github.com/vladislavdragonenkov/orderflow/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderflow/internal/service/subscription"
	httpapi "github.com/vladislavdragonenkov/orderflow/internal/transport/http"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

const (
	grpcStopTimeout = 5 * time.Second
	// outboxBreakerReset — пауза перед пробной публикацией после размыкания breaker.
	outboxBreakerReset = 30 * time.Second
)

// Run поднимает сервис и блокируется до отмены ctx или падения сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(version.Fields()).Info("starting orderflow")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	clock := domain.SystemClock{}
	engine := lifecycle.New(deps.store,
		subscription.NewExtender(clock, log.WithField("component", "subscription")),
		lifecycle.WithClock(clock),
		lifecycle.WithLogger(log.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(metrics.NewLifecycleMetrics()),
		lifecycle.WithActivationTimeout(cfg.ActivationTimeout),
		lifecycle.WithSweepBatchSize(cfg.ExpirySweepBatchSize),
	)

	// ошибка уже залогирована, без Kafka сервис продолжает работу
	kafkaProducer, _ := initKafkaProducer(cfg.Brokers(), cfg.KafkaClientID, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.redisChecker != nil {
		healthHandler.RegisterChecker("redis", deps.redisChecker)
	}

	workers := startWorkers(cfg, deps, engine, kafkaProducer, logger)

	var callbackConsumer *kafka.Consumer
	if kafkaProducer != nil {
		callbackConsumer, err = initCallbackConsumer(cfg, engine, kafkaProducer, logger)
		if err != nil {
			logger.WithError(err).Warn("payment callback consumer disabled")
		} else if callbackConsumer != nil {
			if err := callbackConsumer.Start(workers.ctx); err != nil {
				logger.WithError(err).Warn("failed to start payment callback consumer")
				callbackConsumer = nil
			}
		}
	}

	grpcServer, grpcHealth := newGRPCServer(engine, deps.idempotencyRepo, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		workers.stop(logger)
		stopKafkaConsumer(callbackConsumer, logger)
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(engine, log.WithField("component", "http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// метрики и пробы живут до конца остановки, чтобы /readyz успел ответить 503
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	metricsSrv := startMetricsServer(metricsCtx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		runErr = ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.WithError(err).Error("server stopped unexpectedly")
			runErr = err
		}
	}

	healthHandler.SetReady(false)
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(httpSrv, logger)
	stopKafkaConsumer(callbackConsumer, logger)
	workers.stop(logger)
	shutdownEngine(engine, cfg.ShutdownTimeout, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newGRPCServer регистрирует LifecycleService, метрики и health.
func newGRPCServer(engine *lifecycle.Engine, idemRepo domain.IdempotencyRepository, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	service := grpcsvc.NewLifecycleService(engine, idemRepo, log.WithField("component", "grpc"))
	grpcsvc.RegisterLifecycleServer(grpcServer, service)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer
}

// stopGRPC ждёт завершения активных вызовов, по таймауту рвёт соединения.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownEngine дожидается фоновых активаций.
func shutdownEngine(engine *lifecycle.Engine, timeout time.Duration, logger *log.Entry) {
	if engine == nil {
		return
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("background activations did not finish before shutdown")
	}
}

// backgroundWorkers — воркеры outbox, очистки ключей и истечения сроков.
type backgroundWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startWorkers(cfg Config, deps *runtimeDependencies, engine *lifecycle.Engine, producer *kafka.Producer, logger *log.Entry) *backgroundWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	w := &backgroundWorkers{ctx: ctx, cancel: cancel}

	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic)
		dlq := kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
		worker := outbox.NewWorker(deps.store.Outbox(), publisher,
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryDelay(cfg.OutboxRetryDelay),
			// порог выше числа попыток на сообщение: одно битое сообщение уходит в DLQ, не размыкая цепь
			outbox.WithCircuitBreaker(outbox.NewCircuitBreaker(
				2*cfg.OutboxMaxAttempts, outboxBreakerReset,
				log.WithField("component", "outbox-breaker"),
			)),
		)
		w.spawn(worker.Run)
	} else {
		logger.Warn("kafka is not configured, outbox events stay in storage")
	}

	if !deps.idempotencyExpires {
		cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo, prometheus.DefaultRegisterer,
			idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		w.spawn(cleanup.Run)
	}

	sweeper := expiry.NewWorker(engine, cfg.ExpirySweepInterval, log.WithField("component", "expiry-worker"))
	w.spawn(sweeper.Run)

	return w
}

func (w *backgroundWorkers) spawn(run func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run(w.ctx)
	}()
}

// stop отменяет воркеры и ждёт их завершения.
func (w *backgroundWorkers) stop(logger *log.Entry) {
	if w == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	logger.Info("background workers stopped")
}

// startMetricsServer запускает /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
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

// newMetricsMux обслуживает служебные эндпоинты: метрики, health, liveness и readiness.
func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
