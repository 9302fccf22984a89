package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paychain/cmd/server/config"
	grpcadapter "paychain/internal/adapters/grpc"
	"paychain/internal/observability"
	"paychain/internal/payments"
	"paychain/internal/realtime"
	"paychain/internal/reliability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	app := config.LoadApp()
	logger, err := newLogger(app.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, app, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func run(ctx context.Context, app config.AppConfig, logger *zap.Logger) error {
	grpcCfg, err := config.LoadGRPC()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}
	drCfg, forteCfg, err := config.LoadGateways()
	if err != nil {
		return err
	}
	guardCfg, err := config.LoadReliability()
	if err != nil {
		return err
	}

	rules, err := loadScrubRules(app, logger)
	if err != nil {
		return err
	}
	sink, cleanupSink, err := buildTranscriptSink(ctx, rules, logger)
	if err != nil {
		return err
	}
	defer cleanupSink()

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(logger.Named("events"))

	service, cleanup, err := payments.Build(ctx, payments.BuildConfig{
		DatabaseDSN:  app.DatabaseURL,
		DigitalRiver: drCfg,
		Forte:        forteCfg,
		Reliability:  guardCfg,
		Sink:         sink,
		ScrubRules:   rules,
		Metrics:      metrics,
		Broadcaster:  hub,
	}, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	lis, err := net.Listen("tcp", grpcCfg.Addr)
	if err != nil {
		return err
	}

	limiter := reliability.NewRateLimiter(grpcCfg.RateLimitInterval, grpcCfg.RateLimitBurst, metrics.AddRateLimitWait)
	server := grpcpkg.NewServer(
		grpcpkg.UnaryInterceptor(rateLimitUnaryInterceptor(limiter, metrics, logger)),
		grpcpkg.StreamInterceptor(rateLimitStreamInterceptor(limiter, metrics, logger)),
	)
	grpcadapter.RegisterBillingServiceServer(server, grpcadapter.NewBillingServer(service))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	setServing(healthServer, healthpb.HealthCheckResponse_SERVING)

	if !app.Production() {
		reflection.Register(server)
		logger.Info("gRPC reflection enabled", zap.String("app_env", app.Env))
	}

	obsSrv := newObservabilityServer(obsCfg.Addr, metrics, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", grpcCfg.Addr), zap.Strings("gateways", service.Gateways()))
		return server.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("observability server listening", zap.String("addr", obsCfg.Addr))
		if err := obsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		setServing(healthServer, healthpb.HealthCheckResponse_NOT_SERVING)
		server.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = obsSrv.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

func setServing(h *health.Server, status healthpb.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus(grpcadapter.BillingServiceName, status)
	h.SetServingStatus("", status)
}

func newObservabilityServer(addr string, metrics *observability.Metrics, hub *realtime.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.Handle("/events", hub)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
