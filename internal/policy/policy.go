// Package policy turns a raw final-score prediction into a capped score and
// grade band, and a classifier decision into a pass/fail outcome.
//
// The policy encodes academic rules the statistical model does not enforce:
// a weak internal assessment limits the best achievable grade, and the top
// band additionally requires good attendance and task scores.
package policy

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/godilite/grade-predictor/internal/apperrors"
)

const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Thresholds are cut-offs on the internal assessment scale.
type Thresholds struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Caps are score ceilings on the final 0-100 scale, one per threshold tier.
type Caps struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

type Config struct {
	InternalMax   float64    `json:"internal_max"`
	Thresholds    Thresholds `json:"thresholds"`
	Caps          Caps       `json:"caps"`
	MinAttendance float64    `json:"min_attendance"`
	MinTask       float64    `json:"min_task"`
	TaskMax       float64    `json:"task_max"`
	Bands         []Band     `json:"bands"`
}

// DefaultConfig is the 0-40 internal scale rule set.
func DefaultConfig() Config {
	return Config{
		InternalMax:   40,
		Thresholds:    Thresholds{Low: 15, Mid: 20, High: 25},
		Caps:          Caps{Low: 69, Mid: 79, High: 89},
		MinAttendance: 85,
		MinTask:       75,
		TaskMax:       100,
		Bands:         DefaultBands,
	}
}

// Indicators are the academic values the rules look at.
type Indicators struct {
	MinInternal float64
	Attendance  float64
	Task        float64
}

type RuleName string

const (
	RuleInternalFloor RuleName = "internal_floor"
	RuleInternalMid   RuleName = "internal_mid"
	RuleInternalHigh  RuleName = "internal_high"
	RuleAttendance    RuleName = "attendance"
	RuleTask          RuleName = "task"
)

// Rule is one evaluated requirement, in the order the policy checks them.
type Rule struct {
	Name     RuleName `json:"name"`
	Met      bool     `json:"met"`
	Observed float64  `json:"observed"`
	Required float64  `json:"required"`
	Message  string   `json:"message"`
}

type Adjustment struct {
	Raw     float64  `json:"raw"`
	Cap     float64  `json:"cap"`
	CapRule RuleName `json:"cap_rule,omitempty"`
	// Capped reports whether the ceiling actually lowered the raw score.
	Capped bool    `json:"capped"`
	Score  float64 `json:"score"`
	Band   Band    `json:"band"`
	Trace  []Rule  `json:"trace"`
}

// Explain renders the trace as one line: the unmet rules in check order,
// with the internal rules reduced to the one that set the cap.
func (a Adjustment) Explain() string {
	var parts []string
	internalSeen := false
	for _, r := range a.Trace {
		if r.Met {
			continue
		}
		if r.Name == RuleInternalFloor || r.Name == RuleInternalMid || r.Name == RuleInternalHigh {
			if internalSeen {
				continue
			}
			internalSeen = true
		}
		parts = append(parts, r.Message)
	}
	if len(parts) == 0 {
		return "all criteria met"
	}
	return strings.Join(parts, "; ")
}

type Policy struct {
	cfg   Config
	bands Bands
}

func New(cfg Config) (*Policy, error) {
	bands, err := NewBands(cfg.Bands)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Bands = bands
	return &Policy{cfg: cfg, bands: bands}, nil
}

func (c Config) validate() error {
	for name, v := range map[string]float64{
		"internal_max":   c.InternalMax,
		"threshold_low":  c.Thresholds.Low,
		"threshold_mid":  c.Thresholds.Mid,
		"threshold_high": c.Thresholds.High,
		"cap_low":        c.Caps.Low,
		"cap_mid":        c.Caps.Mid,
		"cap_high":       c.Caps.High,
		"min_attendance": c.MinAttendance,
		"min_task":       c.MinTask,
		"task_max":       c.TaskMax,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidPolicy, name)
		}
	}

	t := c.Thresholds
	switch {
	case c.InternalMax <= 0:
		return fmt.Errorf("%w: internal_max must be positive", ErrInvalidPolicy)
	case t.Low < 0 || !(t.Low <= t.Mid && t.Mid <= t.High) || t.High > c.InternalMax:
		return fmt.Errorf("%w: thresholds %v/%v/%v must ascend within [0, %v]", ErrInvalidPolicy, t.Low, t.Mid, t.High, c.InternalMax)
	}

	k := c.Caps
	if k.Low < ScoreMin || !(k.Low <= k.Mid && k.Mid <= k.High) || k.High > ScoreMax {
		return fmt.Errorf("%w: caps %v/%v/%v must ascend within [%v, %v]", ErrInvalidPolicy, k.Low, k.Mid, k.High, ScoreMin, ScoreMax)
	}

	if c.MinAttendance < 0 || c.MinAttendance > 100 {
		return fmt.Errorf("%w: min_attendance %v outside [0, 100]", ErrInvalidPolicy, c.MinAttendance)
	}
	if c.TaskMax <= 0 || c.MinTask < 0 || c.MinTask > c.TaskMax {
		return fmt.Errorf("%w: min_task %v outside [0, %v]", ErrInvalidPolicy, c.MinTask, c.TaskMax)
	}
	return nil
}

func (p *Policy) Config() Config { return p.cfg }

func (p *Policy) Bands() Bands { return p.bands }

func (p *Policy) Grade(score float64) Band { return p.bands.Grade(score) }

// Adjust applies the cap for ind to raw, clips to [ScoreMin, ScoreMax] and
// grades the result.
func (p *Policy) Adjust(raw float64, ind Indicators) (Adjustment, error) {
	if math.IsNaN(raw) {
		return Adjustment{}, apperrors.Invalid("raw_score", "prediction is not a number", raw)
	}
	if err := p.validateIndicators(ind); err != nil {
		return Adjustment{}, err
	}

	ceiling, rule, trace := p.Ceiling(ind)
	score := clip(math.Min(raw, ceiling))

	return Adjustment{
		Raw:     raw,
		Cap:     ceiling,
		CapRule: rule,
		Capped:  raw > ceiling,
		Score:   score,
		Band:    p.bands.Grade(score),
		Trace:   trace,
	}, nil
}

// Ceiling returns the highest score ind allows, the rule that set it (empty
// when every rule is met) and the full rule trace.
func (p *Policy) Ceiling(ind Indicators) (float64, RuleName, []Rule) {
	t, k := p.cfg.Thresholds, p.cfg.Caps

	trace := []Rule{
		p.rule(RuleInternalFloor, ind.MinInternal, t.Low, "minimum internal score", fmt.Sprintf("grade above %v", k.Low)),
		p.rule(RuleInternalMid, ind.MinInternal, t.Mid, "minimum internal score", fmt.Sprintf("grade above %v", k.Mid)),
		p.rule(RuleInternalHigh, ind.MinInternal, t.High, "minimum internal score", "top band"),
		p.rule(RuleAttendance, ind.Attendance, p.cfg.MinAttendance, "attendance", "top band"),
		p.rule(RuleTask, ind.Task, p.cfg.MinTask, "task score", "top band"),
	}

	switch {
	case !trace[0].Met:
		return k.Low, RuleInternalFloor, trace
	case !trace[1].Met:
		return k.Mid, RuleInternalMid, trace
	}
	for _, r := range trace[2:] {
		if !r.Met {
			return k.High, r.Name, trace
		}
	}
	return ScoreMax, "", trace
}

func (p *Policy) rule(name RuleName, observed, required float64, what, unlocks string) Rule {
	r := Rule{Name: name, Met: observed >= required, Observed: observed, Required: required}
	if r.Met {
		r.Message = fmt.Sprintf("%s %.1f meets %v", what, observed, required)
	} else {
		r.Message = fmt.Sprintf("%s %.1f is below %v (needed for %s)", what, observed, required, unlocks)
	}
	return r
}

func (p *Policy) validateIndicators(ind Indicators) error {
	check := func(field string, v, lo, hi float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.Invalid(field, "must be a finite number", v)
		}
		if v < lo || v > hi {
			return apperrors.Invalid(field, fmt.Sprintf("must be within [%v, %v]", lo, hi), v)
		}
		return nil
	}
	if err := check("min_internal", ind.MinInternal, 0, p.cfg.InternalMax); err != nil {
		return err
	}
	if err := check("attendance", ind.Attendance, 0, 100); err != nil {
		return err
	}
	return check("task", ind.Task, 0, p.cfg.TaskMax)
}

func clip(v float64) float64 {
	return math.Max(ScoreMin, math.Min(ScoreMax, v))
}
