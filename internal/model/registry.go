package model

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultLoadTimeout = 30 * time.Second

// Registry owns the active pipeline. Callers borrow the current snapshot per
// request; a reload swaps it atomically and never disturbs in-flight calls.
type Registry struct {
	source   Source
	logger   *zap.Logger
	check    func(*Artifact) error
	onLoad   func(error)
	timeout  time.Duration
	current  atomic.Pointer[Pipeline]
	loadedAt atomic.Pointer[time.Time]
	sfGroup  singleflight.Group
}

type RegistryOption func(*Registry)

// WithCompatibilityCheck rejects artifacts the rest of the service cannot serve.
func WithCompatibilityCheck(check func(*Artifact) error) RegistryOption {
	return func(r *Registry) { r.check = check }
}

// WithLoadHook is called after every load attempt with its error, if any.
func WithLoadHook(hook func(error)) RegistryOption {
	return func(r *Registry) { r.onLoad = hook }
}

func WithLoadTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRegistry(source Source, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if source == nil {
		panic("nil Source provided to NewRegistry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		source:  source,
		logger:  logger.Named("model-registry"),
		timeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fetches the artifact and activates it. Concurrent calls share a single
// fetch. On failure the previously active pipeline, if any, stays in place.
func (r *Registry) Load(ctx context.Context) (*Pipeline, error) {
	v, err, shared := r.sfGroup.Do("load", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.load(loadCtx)
	})
	if shared {
		r.logger.Debug("artifact load shared with concurrent caller")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Pipeline), nil
}

func (r *Registry) load(ctx context.Context) (p *Pipeline, err error) {
	defer func() {
		if r.onLoad != nil {
			r.onLoad(err)
		}
	}()

	start := time.Now()
	a, err := r.source.Load(ctx)
	if err != nil {
		r.logger.Error("artifact load failed", zap.String("source", r.source.Describe()), zap.Error(err))
		return nil, err
	}

	if r.check != nil {
		if err := r.check(a); err != nil {
			r.logger.Error("artifact rejected", zap.String("source", r.source.Describe()), zap.Error(err))
			return nil, apperrors.Unavailable(r.source.Describe(), err)
		}
	}

	p, err = NewPipeline(a)
	if err != nil {
		return nil, apperrors.Unavailable(r.source.Describe(), err)
	}

	now := time.Now()
	r.current.Store(p)
	r.loadedAt.Store(&now)

	r.logger.Info("artifact loaded",
		zap.String("source", r.source.Describe()),
		zap.String("name", a.Name),
		zap.String("version", a.Version),
		zap.String("kind", string(a.Kind)),
		zap.Int("features", len(a.FeatureNames)),
		zap.Duration("took", time.Since(start)))
	return p, nil
}

// Current returns the active pipeline.
func (r *Registry) Current() (*Pipeline, error) {
	p := r.current.Load()
	if p == nil {
		return nil, apperrors.Unavailable(r.source.Describe(), errors.New("no artifact loaded"))
	}
	return p, nil
}

// LoadedAt reports when the active pipeline was activated.
func (r *Registry) LoadedAt() (time.Time, bool) {
	t := r.loadedAt.Load()
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

func (r *Registry) Source() string { return r.source.Describe() }

// Reload refetches the artifact from the source. It is Load under the name
// operators use.
func (r *Registry) Reload(ctx context.Context) (*Pipeline, error) {
	return r.Load(ctx)
}
