package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/policy"
	"github.com/godilite/grade-predictor/internal/schema"
	"go.uber.org/zap"
)

const (
	defaultWorkers = 4

	// Thresholds for the analysis panel, in percent of each feature's scale
	// except study time which is in hours.
	internalGoodPercent = 70
	attendanceGood      = 80
	taskGoodPercent     = 70
	studyHoursOptimal   = 4
)

// ErrNonFinitePrediction is returned when the estimator produces NaN or an
// infinite score, which no grade can be derived from.
var ErrNonFinitePrediction = errors.New("estimator returned a non-finite prediction")

// PredictionService validates feature vectors, runs the active pipeline and
// applies the grading policy.
type PredictionService struct {
	models      PipelineProvider
	schema      *schema.Schema
	policy      *policy.Policy
	logger      *zap.Logger
	recorder    Recorder
	workers     int
	medianFill  bool
	passthrough []string
}

type Option func(*PredictionService)

// WithWorkers bounds how many batch rows are evaluated at once.
func WithWorkers(n int) Option {
	return func(s *PredictionService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMedianFill replaces empty batch cells with the column median.
func WithMedianFill(enabled bool) Option {
	return func(s *PredictionService) { s.medianFill = enabled }
}

// WithPassthroughColumns lists extra batch columns that are copied to the
// output instead of being rejected.
func WithPassthroughColumns(columns ...string) Option {
	return func(s *PredictionService) {
		s.passthrough = append(s.passthrough, columns...)
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *PredictionService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewPredictionService creates a new PredictionService instance.
func NewPredictionService(models PipelineProvider, sch *schema.Schema, pol *policy.Policy, logger *zap.Logger, opts ...Option) *PredictionService {
	if models == nil {
		panic("models must not be nil")
	}
	if sch == nil || pol == nil {
		panic("schema and policy must not be nil")
	}
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l
	}
	s := &PredictionService{
		models:   models,
		schema:   sch,
		policy:   pol,
		logger:   logger.Named("prediction-service"),
		recorder: nopRecorder{},
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckArtifact reports an artifact whose features the schema does not
// declare. It is meant for model.WithCompatibilityCheck.
func CheckArtifact(sch *schema.Schema) func(*model.Artifact) error {
	return func(a *model.Artifact) error {
		var unknown []string
		for _, name := range a.FeatureNames {
			if _, ok := sch.Lookup(name); !ok {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			return &apperrors.SchemaError{Unexpected: unknown}
		}
		return nil
	}
}

// Predict grades a single feature vector.
func (s *PredictionService) Predict(ctx context.Context, v schema.FeatureVector) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(v); err != nil {
		return nil, err
	}

	p, err := s.models.Current()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pred, err := s.evaluate(p, v)
	if err != nil {
		if !errors.Is(err, apperrors.ErrInvalidInput) {
			s.logger.Error("prediction failed", zap.Error(err))
		}
		return nil, err
	}
	s.record(pred, time.Since(start))

	s.logger.Debug("prediction served",
		zap.String("task", string(pred.Task)),
		zap.Float64("raw", pred.Raw),
		zap.String("outcome", pred.Outcome()))
	return pred, nil
}

// evaluate runs p on an already validated vector.
func (s *PredictionService) evaluate(p *model.Pipeline, v schema.FeatureVector) (*Prediction, error) {
	row, err := s.schema.Row(v, p.FeatureNames())
	if err != nil {
		return nil, err
	}

	pred := &Prediction{
		Task:         p.Task(),
		Insights:     s.insights(v),
		Profile:      s.schema.Normalize(v),
		ModelVersion: p.Artifact().Version,
	}

	switch pred.Task {
	case model.TaskRegression:
		raw, err := p.Predict(row)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return nil, fmt.Errorf("%w: %v from %s", ErrNonFinitePrediction, raw, p.Artifact().Version)
		}
		adj, err := s.policy.Adjust(raw, s.schema.Indicators(v))
		if err != nil {
			return nil, err
		}
		pred.Raw = raw
		pred.Adjustment = &adj
	case model.TaskClassification:
		d, err := p.Decide(row)
		if err != nil {
			return nil, err
		}
		c, err := policy.Classify(d)
		if err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		pred.Raw = float64(d.Label)
		pred.Classification = &c
	default:
		return nil, fmt.Errorf("unsupported task %q", pred.Task)
	}
	return pred, nil
}

func (s *PredictionService) record(pred *Prediction, took time.Duration) {
	s.recorder.RecordPrediction(string(pred.Task), pred.Outcome(), took)
	if adj := pred.Adjustment; adj != nil {
		s.recorder.RecordGrade(adj.Band.Grade)
		if adj.Capped {
			s.recorder.RecordCap(string(adj.CapRule))
		}
	}
}

func (s *PredictionService) insights(v schema.FeatureVector) Insights {
	ind := s.schema.Indicators(v)
	i1, _ := s.schema.ByRole(schema.RoleInternal1)
	i2, _ := s.schema.ByRole(schema.RoleInternal2)
	task, _ := s.schema.ByRole(schema.RoleTask)

	avg := (v[i1.Key] + v[i2.Key]) / 2
	lo, hi := math.Min(i1.Min, i2.Min), s.schema.InternalMax()
	in := Insights{
		InternalAverage: avg,
		InternalPercent: (avg - lo) / (hi - lo) * 100,
		Attendance:      ind.Attendance,
		AttendanceGood:  ind.Attendance >= attendanceGood,
		TaskPercent:     (ind.Task - task.Min) / (task.Max - task.Min) * 100,
	}
	in.InternalGood = in.InternalPercent >= internalGoodPercent
	in.TaskGood = in.TaskPercent >= taskGoodPercent

	if f, ok := s.schema.ByRole(schema.RoleStudyTime); ok {
		if h, ok := v[f.Key]; ok {
			in.StudyHours = &h
			in.StudyOptimal = h >= studyHoursOptimal
		}
	}
	return in
}

// ModelInfo describes the active model and the grading rules.
func (s *PredictionService) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.models.Current()
	if err != nil {
		return nil, err
	}
	return s.describe(p), nil
}

func (s *PredictionService) describe(p *model.Pipeline) *ModelInfo {
	a := p.Artifact()
	info := &ModelInfo{
		Name:     a.Name,
		Version:  a.Version,
		Kind:     a.Kind,
		Task:     a.Kind.Task(),
		Source:   s.models.Source(),
		Features: make([]FeatureInfo, len(a.FeatureNames)),
		Metrics:  a.Metrics,
		Policy:   s.policy.Config(),
	}
	if t, ok := s.models.LoadedAt(); ok {
		info.LoadedAt = t
	}

	for i, name := range a.FeatureNames {
		fi := FeatureInfo{Key: name, Label: name, Coefficient: a.Coefficients[i]}
		if f, ok := s.schema.Lookup(name); ok {
			fi.Label, fi.Unit, fi.Min, fi.Max, fi.Role = f.Label, f.Unit, f.Min, f.Max, string(f.Role)
		}
		switch c := a.Coefficients[i]; {
		case c > 0:
			fi.Effect = "positive"
		case c < 0:
			fi.Effect = "negative"
		default:
			fi.Effect = "none"
		}
		info.Features[i] = fi
	}
	return info
}

// ReloadModel refetches the artifact. On failure the previous model keeps
// serving and the error is returned.
func (s *PredictionService) ReloadModel(ctx context.Context) (*ModelInfo, error) {
	p, err := s.models.Reload(ctx)
	if err != nil {
		s.logger.Warn("model reload failed, previous model stays active", zap.Error(err))
		return nil, err
	}
	return s.describe(p), nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
