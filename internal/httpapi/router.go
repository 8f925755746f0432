// Package httpapi exposes the prediction service over HTTP: JSON for single
// predictions and model management, CSV for batches.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 32 << 20
)

type PredictionService interface {
	Predict(ctx context.Context, v schema.FeatureVector) (*service.Prediction, error)
	PredictBatch(ctx context.Context, t *table.Table) (*service.BatchResult, error)
	ModelInfo(ctx context.Context) (*service.ModelInfo, error)
	ReloadModel(ctx context.Context) (*service.ModelInfo, error)
}

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	RecordHTTPRequest(route, method string, status int, took time.Duration)
}

type options struct {
	origins      []string
	timeout      time.Duration
	maxBodyBytes int64
	recorder     RequestRecorder
	metrics      http.Handler
}

type Option func(*options)

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(o *options) {
		o.origins = origins
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxBodyBytes caps the size of request bodies, CSV uploads included.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithMetrics records every request on rec and serves h on GET /metrics.
func WithMetrics(rec RequestRecorder, h http.Handler) Option {
	return func(o *options) {
		o.recorder = rec
		o.metrics = h
	}
}

// NewRouter builds the HTTP API around predictor.
func NewRouter(predictor PredictionService, logger *zap.Logger, opts ...Option) http.Handler {
	if predictor == nil {
		panic("nil PredictionService provided to NewRouter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &options{
		timeout:      defaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(o)
	}

	h := &handlers{
		predictor:    predictor,
		logger:       logger.Named("http-handler"),
		maxBodyBytes: o.maxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	if o.recorder != nil {
		r.Use(recordRequests(o.recorder))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(o.timeout))

	if len(o.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   o.origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{headerTotal, headerPredicted, headerRejected, headerFilled, middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", h.ready)
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics)
	}

	r.Route("/v1", func(vr chi.Router) {
		vr.Get("/model", h.modelInfo)
		vr.Post("/model/reload", h.reloadModel)
		vr.Post("/predict", h.predict)
		vr.Post("/batch", h.batch)
	})

	return r
}
