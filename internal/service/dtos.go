package service

import (
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/policy"
	"github.com/godilite/grade-predictor/internal/table"
)

// Prediction is the outcome for one feature vector. Exactly one of
// Adjustment and Classification is set, depending on the model's task.
type Prediction struct {
	Task           model.Task             `json:"task"`
	Raw            float64                `json:"raw"`
	Adjustment     *policy.Adjustment     `json:"adjustment,omitempty"`
	Classification *policy.Classification `json:"classification,omitempty"`
	Insights       Insights               `json:"insights"`
	Profile        map[string]float64     `json:"profile"`
	ModelVersion   string                 `json:"model_version"`
}

// Outcome is the grade for regression or PASS/FAIL for classification.
func (p *Prediction) Outcome() string {
	if p.Adjustment != nil {
		return p.Adjustment.Band.Grade
	}
	if p.Classification != nil {
		return string(p.Classification.Outcome)
	}
	return ""
}

// Insights summarise the academic indicators behind a prediction.
type Insights struct {
	InternalAverage float64  `json:"internal_average"`
	InternalPercent float64  `json:"internal_percent"`
	InternalGood    bool     `json:"internal_good"`
	Attendance      float64  `json:"attendance"`
	AttendanceGood  bool     `json:"attendance_good"`
	TaskPercent     float64  `json:"task_percent"`
	TaskGood        bool     `json:"task_good"`
	StudyHours      *float64 `json:"study_hours,omitempty"`
	StudyOptimal    bool     `json:"study_optimal,omitempty"`
}

// RowResult is the fate of one batch row. Err is set when the row was
// rejected; Prediction otherwise.
type RowResult struct {
	Row        int                   `json:"row"`
	Prediction *Prediction           `json:"prediction,omitempty"`
	Err        *apperrors.InputError `json:"-"`
	Filled     []string              `json:"filled,omitempty"`
}

type BatchSummary struct {
	Task        model.Task     `json:"task"`
	Total       int            `json:"total"`
	Predicted   int            `json:"predicted"`
	Rejected    int            `json:"rejected"`
	FilledCells int            `json:"filled_cells"`
	MeanScore   float64        `json:"mean_score"`
	MinScore    float64        `json:"min_score"`
	MaxScore    float64        `json:"max_score"`
	Counts      map[string]int `json:"counts"`
}

// BatchResult carries per-row results, the output table with appended
// result columns, and the summary.
type BatchResult struct {
	Rows    []RowResult  `json:"rows"`
	Table   *table.Table `json:"-"`
	Summary BatchSummary `json:"summary"`
}

type FeatureInfo struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Unit        string  `json:"unit,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Role        string  `json:"role"`
	Coefficient float64 `json:"coefficient"`
	Effect      string  `json:"effect"`
}

type ModelInfo struct {
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Kind     model.Kind    `json:"kind"`
	Task     model.Task    `json:"task"`
	Source   string        `json:"source"`
	LoadedAt time.Time     `json:"loaded_at"`
	Features []FeatureInfo `json:"features"`
	Metrics  model.Metrics `json:"metrics"`
	Policy   policy.Config `json:"policy"`
}
