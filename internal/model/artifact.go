// Package model loads trained estimator artifacts and evaluates them.
//
// An artifact is a JSON document exported from the training notebook:
//
//	{
//	  "name": "academic_predictor",
//	  "version": "pt6",
//	  "kind": "linear_regression",
//	  "feature_names": ["Persentase_Kehadiran", "Nilai_Internal_1", ...],
//	  "coefficients": [0.41, 0.77, ...],
//	  "intercept": 12.3,
//	  "scaler": {"mean": [...], "scale": [...]},
//	  "metrics": {"r2": 0.91, "mae": 2.1, "rmse": 2.8}
//	}
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidArtifact = errors.New("invalid artifact")

type Kind string

const (
	KindLinearRegression   Kind = "linear_regression"
	KindLogisticRegression Kind = "logistic_regression"
	KindLinearSVC          Kind = "linear_svc"
)

type Task string

const (
	TaskRegression     Task = "regression"
	TaskClassification Task = "classification"
)

func (k Kind) Task() Task {
	if k == KindLinearRegression {
		return TaskRegression
	}
	return TaskClassification
}

type ScalerParams struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Metrics are the evaluation figures recorded at training time.
type Metrics struct {
	R2       *float64 `json:"r2,omitempty"`
	MAE      *float64 `json:"mae,omitempty"`
	RMSE     *float64 `json:"rmse,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

type Artifact struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	Kind         Kind          `json:"kind"`
	FeatureNames []string      `json:"feature_names"`
	Coefficients []float64     `json:"coefficients"`
	Intercept    float64       `json:"intercept"`
	Scaler       *ScalerParams `json:"scaler,omitempty"`
	Metrics      Metrics       `json:"metrics"`
}

// Decode parses and validates an artifact document.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) Encode() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

func (a *Artifact) Validate() error {
	switch a.Kind {
	case KindLinearRegression, KindLogisticRegression, KindLinearSVC:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, a.Kind)
	}

	n := len(a.FeatureNames)
	if n == 0 {
		return fmt.Errorf("%w: no feature names", ErrInvalidArtifact)
	}
	seen := make(map[string]struct{}, n)
	for _, name := range a.FeatureNames {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidArtifact, name)
		}
		seen[name] = struct{}{}
	}

	if len(a.Coefficients) != n {
		return fmt.Errorf("%w: %d coefficients for %d features", ErrInvalidArtifact, len(a.Coefficients), n)
	}
	if !allFinite(a.Coefficients) || !allFinite([]float64{a.Intercept}) {
		return fmt.Errorf("%w: non-finite coefficient", ErrInvalidArtifact)
	}

	if s := a.Scaler; s != nil {
		if len(s.Mean) != n || len(s.Scale) != n {
			return fmt.Errorf("%w: scaler has %d means and %d scales for %d features", ErrInvalidArtifact, len(s.Mean), len(s.Scale), n)
		}
		if !allFinite(s.Mean) || !allFinite(s.Scale) {
			return fmt.Errorf("%w: non-finite scaler parameter", ErrInvalidArtifact)
		}
	}
	return nil
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
