package model

import (
	"fmt"
	"math"
)

// Scaler standardizes a raw feature row.
type Scaler interface {
	Transform(row []float64) ([]float64, error)
}

// Estimator is the minimum every model exposes. Classifiers return the
// class label as 0 or 1.
type Estimator interface {
	Predict(row []float64) (float64, error)
}

// ProbabilityEstimator is implemented by classifiers with calibrated
// per-class probabilities.
type ProbabilityEstimator interface {
	PredictProba(row []float64) ([]float64, error)
}

// DecisionEstimator is implemented by margin-based classifiers.
type DecisionEstimator interface {
	DecisionFunction(row []float64) (float64, error)
}

// StandardScaler applies (x - mean) / scale. A zero scale is treated as 1,
// matching scikit-learn for constant features.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

func NewStandardScaler(p ScalerParams) *StandardScaler {
	scale := make([]float64, len(p.Scale))
	for i, s := range p.Scale {
		if s == 0 {
			s = 1
		}
		scale[i] = s
	}
	return &StandardScaler{mean: append([]float64(nil), p.Mean...), scale: scale}
}

func (s *StandardScaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.mean) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.mean), len(row))
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out, nil
}

type identityScaler struct{}

func (identityScaler) Transform(row []float64) ([]float64, error) {
	return append([]float64(nil), row...), nil
}

type linear struct {
	coef      []float64
	intercept float64
}

func (l linear) margin(row []float64) (float64, error) {
	if len(row) != len(l.coef) {
		return 0, fmt.Errorf("model expects %d features, got %d", len(l.coef), len(row))
	}
	sum := l.intercept
	for i, v := range row {
		sum += l.coef[i] * v
	}
	return sum, nil
}

// LinearRegression predicts a continuous score.
type LinearRegression struct{ linear }

func (m LinearRegression) Predict(row []float64) (float64, error) {
	return m.margin(row)
}

// LogisticRegression is a binary classifier with probabilities.
type LogisticRegression struct{ linear }

func (m LogisticRegression) Predict(row []float64) (float64, error) {
	z, err := m.margin(row)
	if err != nil {
		return 0, err
	}
	if z > 0 {
		return 1, nil
	}
	return 0, nil
}

func (m LogisticRegression) DecisionFunction(row []float64) (float64, error) {
	return m.margin(row)
}

func (m LogisticRegression) PredictProba(row []float64) ([]float64, error) {
	z, err := m.margin(row)
	if err != nil {
		return nil, err
	}
	p := 1 / (1 + math.Exp(-z))
	return []float64{1 - p, p}, nil
}

// LinearSVC exposes a margin but no calibrated probabilities.
type LinearSVC struct{ linear }

func (m LinearSVC) Predict(row []float64) (float64, error) {
	z, err := m.margin(row)
	if err != nil {
		return 0, err
	}
	if z > 0 {
		return 1, nil
	}
	return 0, nil
}

func (m LinearSVC) DecisionFunction(row []float64) (float64, error) {
	return m.margin(row)
}

func newEstimator(a *Artifact) Estimator {
	l := linear{coef: append([]float64(nil), a.Coefficients...), intercept: a.Intercept}
	switch a.Kind {
	case KindLogisticRegression:
		return LogisticRegression{l}
	case KindLinearSVC:
		return LinearSVC{l}
	default:
		return LinearRegression{l}
	}
}
