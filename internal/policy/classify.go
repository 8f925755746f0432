package policy

import (
	"math"

	"github.com/godilite/grade-predictor/internal/apperrors"
)

type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
)

// ProbabilitySource records where a pass probability came from.
type ProbabilitySource string

const (
	SourceProbability ProbabilitySource = "probability"
	SourceDecision    ProbabilitySource = "decision"
	SourceLabel       ProbabilitySource = "label"
)

// Decision is what a classifier exposes for one row. Probabilities is nil
// when the estimator has no calibrated probabilities; HasMargin is false
// when it has no decision function either.
type Decision struct {
	Label         int
	Probabilities []float64
	Margin        float64
	HasMargin     bool
}

type Classification struct {
	Label           int               `json:"label"`
	Outcome         Outcome           `json:"outcome"`
	PassProbability float64           `json:"pass_probability"`
	FailProbability float64           `json:"fail_probability"`
	Source          ProbabilitySource `json:"probability_source"`
}

// Classify maps a decision to PASS/FAIL with probabilities in percent.
// Calibrated probabilities win over the margin, the margin over the label.
func Classify(d Decision) (Classification, error) {
	if d.Label != 0 && d.Label != 1 {
		return Classification{}, apperrors.Invalid("label", "must be 0 or 1", d.Label)
	}

	c := Classification{Label: d.Label, Outcome: OutcomeFail}
	if d.Label == 1 {
		c.Outcome = OutcomePass
	}

	switch {
	case d.Probabilities != nil:
		if len(d.Probabilities) != 2 {
			return Classification{}, apperrors.Invalid("probabilities", "expected one value per class", len(d.Probabilities))
		}
		p := d.Probabilities[1]
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Classification{}, apperrors.Invalid("probabilities", "pass probability must be within [0, 1]", p)
		}
		c.PassProbability = p * 100
		c.Source = SourceProbability
	case d.HasMargin:
		if math.IsNaN(d.Margin) {
			return Classification{}, apperrors.Invalid("margin", "must be a number", d.Margin)
		}
		c.PassProbability = Sigmoid(d.Margin) * 100
		c.Source = SourceDecision
	default:
		c.PassProbability = float64(d.Label) * 100
		c.Source = SourceLabel
	}

	c.FailProbability = 100 - c.PassProbability
	return c, nil
}

// Sigmoid is the logistic function 1/(1+e^-x).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
