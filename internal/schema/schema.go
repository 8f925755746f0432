// Package schema declares the feature set a model consumes: canonical keys,
// display labels, units, valid ranges and the academic role each feature
// plays for the grading policy.
package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/policy"
)

var ErrInvalidSchema = errors.New("invalid schema")

type Role string

const (
	RoleInternal1     Role = "internal_1"
	RoleInternal2     Role = "internal_2"
	RoleAttendance    Role = "attendance"
	RoleTask          Role = "task"
	RoleQuiz          Role = "quiz"
	RoleParticipation Role = "participation"
	RoleStudyTime     Role = "study_time"
	RoleOther         Role = "other"
)

// requiredRoles must each be bound to exactly one non-optional feature.
var requiredRoles = []Role{RoleInternal1, RoleInternal2, RoleAttendance, RoleTask}

type Feature struct {
	Key      string  `json:"key" koanf:"key"`
	Label    string  `json:"label" koanf:"label"`
	Unit     string  `json:"unit" koanf:"unit"`
	Min      float64 `json:"min" koanf:"min"`
	Max      float64 `json:"max" koanf:"max"`
	Role     Role    `json:"role" koanf:"role"`
	Optional bool    `json:"optional" koanf:"optional"`
}

// FeatureVector maps feature keys to values for one subject.
type FeatureVector map[string]float64

type Schema struct {
	features []Feature
	index    map[string]int
	roles    map[Role]int
}

func New(features []Feature) (*Schema, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no features declared", ErrInvalidSchema)
	}

	s := &Schema{
		features: append([]Feature(nil), features...),
		index:    make(map[string]int, len(features)),
		roles:    make(map[Role]int),
	}

	for i, f := range s.features {
		if f.Key == "" {
			return nil, fmt.Errorf("%w: feature %d has no key", ErrInvalidSchema, i)
		}
		if _, dup := s.index[f.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrInvalidSchema, f.Key)
		}
		if math.IsNaN(f.Min) || math.IsNaN(f.Max) || !(f.Min < f.Max) {
			return nil, fmt.Errorf("%w: feature %q has range [%v, %v]", ErrInvalidSchema, f.Key, f.Min, f.Max)
		}
		if f.Label == "" {
			s.features[i].Label = f.Key
		}
		if f.Role == "" {
			s.features[i].Role = RoleOther
		}
		s.index[f.Key] = i

		role := s.features[i].Role
		if role == RoleOther {
			continue
		}
		if prev, dup := s.roles[role]; dup {
			return nil, fmt.Errorf("%w: role %q bound to both %q and %q", ErrInvalidSchema, role, s.features[prev].Key, f.Key)
		}
		s.roles[role] = i
	}

	for _, role := range requiredRoles {
		i, ok := s.roles[role]
		if !ok {
			return nil, fmt.Errorf("%w: no feature has role %q", ErrInvalidSchema, role)
		}
		if s.features[i].Optional {
			return nil, fmt.Errorf("%w: feature %q has required role %q but is optional", ErrInvalidSchema, s.features[i].Key, role)
		}
	}

	if a := s.features[s.roles[RoleAttendance]]; a.Min < 0 || a.Max > 100 {
		return nil, fmt.Errorf("%w: attendance %q must be a percentage", ErrInvalidSchema, a.Key)
	}

	return s, nil
}

func (s *Schema) Features() []Feature {
	return append([]Feature(nil), s.features...)
}

func (s *Schema) Keys() []string {
	keys := make([]string, len(s.features))
	for i, f := range s.features {
		keys[i] = f.Key
	}
	return keys
}

func (s *Schema) Lookup(key string) (Feature, bool) {
	i, ok := s.index[key]
	if !ok {
		return Feature{}, false
	}
	return s.features[i], true
}

// ByRole returns the feature bound to role.
func (s *Schema) ByRole(role Role) (Feature, bool) {
	i, ok := s.roles[role]
	if !ok {
		return Feature{}, false
	}
	return s.features[i], true
}

// InternalMax is the declared top of the internal assessment scale.
func (s *Schema) InternalMax() float64 {
	return math.Max(s.features[s.roles[RoleInternal1]].Max, s.features[s.roles[RoleInternal2]].Max)
}

// Validate checks every present value against its declared range and that
// no required feature is missing. Unknown keys are rejected.
func (s *Schema) Validate(v FeatureVector) error {
	unknown := make([]string, 0)
	for k := range v {
		if _, ok := s.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperrors.Invalid(unknown[0], "not a declared feature", nil)
	}

	for _, f := range s.features {
		val, ok := v[f.Key]
		if !ok {
			if f.Optional {
				continue
			}
			return apperrors.Invalid(f.Key, "required feature is missing", nil)
		}
		if err := f.Check(val); err != nil {
			return err
		}
	}
	return nil
}

// Check validates a single value against the feature's domain.
func (f Feature) Check(val float64) *apperrors.InputError {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return apperrors.Invalid(f.Key, "must be a finite number", val)
	}
	if val < f.Min || val > f.Max {
		return apperrors.Invalid(f.Key, fmt.Sprintf("must be within [%v, %v]", f.Min, f.Max), val)
	}
	return nil
}

// Row orders v by keys, usually the model's feature order. A key the vector
// lacks is an input error even if the schema marks it optional.
func (s *Schema) Row(v FeatureVector, keys []string) ([]float64, error) {
	row := make([]float64, len(keys))
	for i, k := range keys {
		val, ok := v[k]
		if !ok {
			return nil, apperrors.Invalid(k, "required by the model but missing", nil)
		}
		row[i] = val
	}
	return row, nil
}

// Indicators extracts the values the grading policy looks at.
func (s *Schema) Indicators(v FeatureVector) policy.Indicators {
	get := func(r Role) float64 { return v[s.features[s.roles[r]].Key] }
	return policy.Indicators{
		MinInternal: math.Min(get(RoleInternal1), get(RoleInternal2)),
		Attendance:  get(RoleAttendance),
		Task:        get(RoleTask),
	}
}

// MatchColumns checks a table header. Every non-optional feature must be
// present; any column that is neither a feature nor listed in passthrough
// is unexpected.
func (s *Schema) MatchColumns(columns, passthrough []string) error {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	pass := make(map[string]struct{}, len(passthrough))
	for _, c := range passthrough {
		pass[c] = struct{}{}
	}

	var missing, unexpected []string
	for _, f := range s.features {
		if _, ok := have[f.Key]; !ok && !f.Optional {
			missing = append(missing, f.Key)
		}
	}
	for _, c := range columns {
		_, known := s.index[c]
		_, passes := pass[c]
		if !known && !passes {
			unexpected = append(unexpected, c)
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	return &apperrors.SchemaError{Missing: missing, Unexpected: unexpected}
}

// Normalize expresses each present value as a percentage of its declared range.
func (s *Schema) Normalize(v FeatureVector) map[string]float64 {
	out := make(map[string]float64, len(v))
	for _, f := range s.features {
		val, ok := v[f.Key]
		if !ok {
			continue
		}
		out[f.Key] = (val - f.Min) / (f.Max - f.Min) * 100
	}
	return out
}
