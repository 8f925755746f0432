package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pb "github.com/godilite/grade-predictor/api/v1"
	"github.com/godilite/grade-predictor/internal/config"
	handler "github.com/godilite/grade-predictor/internal/grpc"
	"github.com/godilite/grade-predictor/internal/httpapi"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/pkg/blobstore"
	dbbuilder "github.com/godilite/grade-predictor/pkg/database"
	grpcsrv "github.com/godilite/grade-predictor/pkg/grpc/server"
	"github.com/godilite/grade-predictor/pkg/metrics"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	logger     *zap.Logger
	dbPool     *sql.DB
	blobs      *blobstore.Store
	registry   *model.Registry
	metrics    *metrics.Manager
	grpcServer *grpcsrv.Server
	httpServer *http.Server
	httpLis    net.Listener
}

type options struct {
	grpcLis net.Listener
	httpLis net.Listener
}

type Option func(*options)

// WithGRPCListener serves gRPC on lis instead of the configured port.
func WithGRPCListener(lis net.Listener) Option {
	return func(o *options) { o.grpcLis = lis }
}

// WithHTTPListener serves HTTP on lis instead of the configured address.
func WithHTTPListener(lis net.Listener) Option {
	return func(o *options) { o.httpLis = lis }
}

// NewApp wires the model source, registry, prediction service and both
// transports. The model must load for the app to start.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	sch, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	pol, err := cfg.Policy(sch)
	if err != nil {
		return nil, err
	}

	a := &App{logger: logger, metrics: metrics.NewManager()}

	source, err := a.modelSource(ctx, cfg)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.registry = model.NewRegistry(source, logger,
		model.WithCompatibilityCheck(service.CheckArtifact(sch)),
		model.WithLoadTimeout(cfg.ModelLoadTimeout),
		model.WithLoadHook(a.metrics.RecordModelLoad),
	)
	p, err := a.registry.Load(ctx)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("initial model load failed: %w", err)
	}
	logger.Info("Model loaded",
		zap.String("source", source.Describe()),
		zap.String("name", p.Artifact().Name),
		zap.String("version", p.Artifact().Version),
		zap.String("kind", string(p.Artifact().Kind)))

	predictor := service.NewPredictionService(a.registry, sch, pol, logger,
		service.WithWorkers(cfg.BatchWorkers),
		service.WithMedianFill(cfg.BatchMedianFill),
		service.WithPassthroughColumns(cfg.BatchPassthroughColumns...),
		service.WithRecorder(a.metrics),
	)

	grpcHandlers := handler.NewGRPCHandlers(predictor, logger, requestTimeout)

	grpcOpts := []grpcsrv.Option{
		grpcsrv.WithPort(cfg.GRPCPort),
		grpcsrv.WithLogger(logger),
		grpcsrv.WithLogging(true),
		grpcsrv.WithRequestID(true),
		grpcsrv.WithMetrics(a.metrics),
		grpcsrv.WithReflection(cfg.GRPCReflection),
	}
	if o.grpcLis != nil {
		grpcOpts = append(grpcOpts, grpcsrv.WithListener(o.grpcLis))
	}
	a.grpcServer, err = grpcsrv.New(grpcOpts...)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}
	a.grpcServer.RegisterServiceWithHealth(pb.ServiceName, func(s *grpc.Server) {
		pb.RegisterGradePredictorServer(s, grpcHandlers)
	})

	router := httpapi.NewRouter(predictor, logger,
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
		httpapi.WithMetrics(a.metrics, a.metrics.Handler()),
		httpapi.WithTimeout(requestTimeout),
	)
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.httpLis = o.httpLis

	return a, nil
}

// modelSource builds the configured artifact source, opening the database
// or Redis connection it needs.
func (a *App) modelSource(ctx context.Context, cfg *config.Config) (model.Source, error) {
	switch cfg.ModelSource {
	case config.SourceSQL:
		db, err := dbbuilder.New(ctx,
			dbbuilder.WithDriver(cfg.DBDriver),
			dbbuilder.WithDataSource(cfg.DBDSN),
		)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		a.dbPool = db
		a.logger.Info("Database pool initialized", zap.String("driver", cfg.DBDriver))

		src := model.NewSQLSource(db, cfg.DBDriver, cfg.ModelName)
		if err := src.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("artifact table init failed: %w", err)
		}
		return src, nil

	case config.SourceRedis:
		store, err := blobstore.New(ctx,
			blobstore.WithAddress(cfg.RedisAddr),
			blobstore.WithPassword(cfg.RedisPassword),
			blobstore.WithDB(cfg.RedisDB),
			blobstore.WithDialTimeout(cfg.RedisDialTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("Redis client initialized", zap.String("addr", cfg.RedisAddr))
		return model.NewRedisSource(store, cfg.ModelKey), nil

	default:
		return model.NewFileSource(cfg.ModelPath), nil
	}
}

// Run serves both transports until ctx is cancelled or a shutdown signal is
// received, then stops them gracefully.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application starting")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.grpcServer.Start()

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", zap.String("addr", a.httpServer.Addr))
		var err error
		if a.httpLis != nil {
			err = a.httpServer.Serve(a.httpLis)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-httpErr:
		if ok {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	a.logger.Info("application shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := a.grpcServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("gRPC server shutdown error", zap.Error(err))
	}
	a.closeStores()

	if shutdownCtx.Err() == context.DeadlineExceeded {
		a.logger.Warn("shutdown completed but deadline exceeded")
	} else {
		a.logger.Info("graceful shutdown completed successfully")
	}

	_ = a.logger.Sync()
	return runErr
}

func (a *App) closeStores() {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Error("redis shutdown error", zap.Error(err))
		}
	}
	if a.dbPool != nil {
		if err := a.dbPool.Close(); err != nil {
			a.logger.Error("database shutdown error", zap.Error(err))
		}
	}
}
