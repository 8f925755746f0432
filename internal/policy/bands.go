package policy

import (
	"fmt"
	"math"
	"sort"
)

// Band is one grade range. A band covers [Min, next band's Min).
type Band struct {
	Grade string  `json:"grade" koanf:"grade"`
	Label string  `json:"label" koanf:"label"`
	Min   float64 `json:"min" koanf:"min"`
}

// Bands is an ordered partition of [ScoreMin, ScoreMax], highest band first.
type Bands []Band

var (
	// DefaultBands puts the C/D boundary at 70.
	DefaultBands = Bands{
		{Grade: "A", Label: "Excellent", Min: 90},
		{Grade: "B", Label: "Very Good", Min: 80},
		{Grade: "C", Label: "Good", Min: 70},
		{Grade: "D", Label: "Needs Improvement", Min: 0},
	}

	// DashboardBands lowers the C boundary to 65.
	DashboardBands = Bands{
		{Grade: "A", Label: "Excellent", Min: 90},
		{Grade: "B", Label: "Very Good", Min: 80},
		{Grade: "C", Label: "Good", Min: 65},
		{Grade: "D", Label: "Needs Improvement", Min: 0},
	}

	FiveTierBands = Bands{
		{Grade: "A", Label: "Excellent", Min: 90},
		{Grade: "B+", Label: "Very Good", Min: 80},
		{Grade: "B", Label: "Good", Min: 70},
		{Grade: "C", Label: "Average", Min: 60},
		{Grade: "D", Label: "Needs Improvement", Min: 0},
	}
)

var presets = map[string]Bands{
	"default":   DefaultBands,
	"dashboard": DashboardBands,
	"five_tier": FiveTierBands,
}

// Preset returns a copy of a named band set.
func Preset(name string) (Bands, bool) {
	b, ok := presets[name]
	if !ok {
		return nil, false
	}
	return append(Bands(nil), b...), true
}

// NewBands sorts and validates bands. The lowest band must start at
// ScoreMin so that every score in range maps to exactly one band.
func NewBands(in []Band) (Bands, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no grade bands", ErrInvalidPolicy)
	}

	out := append(Bands(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min > out[j].Min })

	grades := make(map[string]struct{}, len(out))
	for i, b := range out {
		if b.Grade == "" {
			return nil, fmt.Errorf("%w: band %d has no grade", ErrInvalidPolicy, i)
		}
		if _, dup := grades[b.Grade]; dup {
			return nil, fmt.Errorf("%w: duplicate grade %q", ErrInvalidPolicy, b.Grade)
		}
		grades[b.Grade] = struct{}{}

		if math.IsNaN(b.Min) || b.Min < ScoreMin || b.Min > ScoreMax {
			return nil, fmt.Errorf("%w: band %q starts at %v, outside [%v, %v]", ErrInvalidPolicy, b.Grade, b.Min, ScoreMin, ScoreMax)
		}
		if i > 0 && out[i-1].Min == b.Min {
			return nil, fmt.Errorf("%w: bands %q and %q overlap at %v", ErrInvalidPolicy, out[i-1].Grade, b.Grade, b.Min)
		}
	}

	if last := out[len(out)-1]; last.Min != ScoreMin {
		return nil, fmt.Errorf("%w: lowest band %q starts at %v, leaving a gap below it", ErrInvalidPolicy, last.Grade, last.Min)
	}

	return out, nil
}

// Grade returns the band containing score. Scores below range fall into the
// lowest band.
func (b Bands) Grade(score float64) Band {
	for _, band := range b {
		if score >= band.Min {
			return band
		}
	}
	return b[len(b)-1]
}

// Upper returns the exclusive upper bound of band i; the top band is closed at ScoreMax.
func (b Bands) Upper(i int) float64 {
	if i == 0 {
		return ScoreMax
	}
	return b[i-1].Min
}
