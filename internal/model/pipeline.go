package model

import (
	"fmt"

	"github.com/godilite/grade-predictor/internal/policy"
)

// Pipeline is a loaded artifact ready to evaluate. It is immutable and safe
// for concurrent use.
type Pipeline struct {
	artifact  *Artifact
	scaler    Scaler
	estimator Estimator
}

func NewPipeline(a *Artifact) (*Pipeline, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var scaler Scaler = identityScaler{}
	if a.Scaler != nil {
		scaler = NewStandardScaler(*a.Scaler)
	}
	return &Pipeline{artifact: a, scaler: scaler, estimator: newEstimator(a)}, nil
}

// NewPipelineFrom assembles a pipeline around custom components.
func NewPipelineFrom(a *Artifact, scaler Scaler, est Estimator) *Pipeline {
	if scaler == nil {
		scaler = identityScaler{}
	}
	return &Pipeline{artifact: a, scaler: scaler, estimator: est}
}

func (p *Pipeline) Artifact() *Artifact { return p.artifact }

func (p *Pipeline) Task() Task { return p.artifact.Kind.Task() }

func (p *Pipeline) FeatureNames() []string {
	return append([]string(nil), p.artifact.FeatureNames...)
}

func (p *Pipeline) Transform(row []float64) ([]float64, error) {
	return p.scaler.Transform(row)
}

// Predict transforms row and returns the estimator's raw output.
func (p *Pipeline) Predict(row []float64) (float64, error) {
	scaled, err := p.scaler.Transform(row)
	if err != nil {
		return 0, fmt.Errorf("transform: %w", err)
	}
	out, err := p.estimator.Predict(scaled)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	return out, nil
}

// Decide collects everything a classifier exposes for row.
func (p *Pipeline) Decide(row []float64) (policy.Decision, error) {
	scaled, err := p.scaler.Transform(row)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("transform: %w", err)
	}

	label, err := p.estimator.Predict(scaled)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("predict: %w", err)
	}
	if label != 0 && label != 1 {
		return policy.Decision{}, fmt.Errorf("predict: class label %v is not 0 or 1", label)
	}
	d := policy.Decision{Label: int(label)}

	if pe, ok := p.estimator.(ProbabilityEstimator); ok {
		proba, err := pe.PredictProba(scaled)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("predict_proba: %w", err)
		}
		d.Probabilities = proba
	}
	if de, ok := p.estimator.(DecisionEstimator); ok {
		margin, err := de.DecisionFunction(scaled)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("decision_function: %w", err)
		}
		d.Margin, d.HasMargin = margin, true
	}
	return d, nil
}
