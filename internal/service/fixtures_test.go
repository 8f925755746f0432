package service

import (
	"testing"

	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/policy"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/stretchr/testify/require"
)

const (
	colAttendance = "Persentase_Kehadiran"
	colInternal1  = "Nilai_Internal_1"
	colInternal2  = "Nilai_Internal_2"
	colTask       = "Skor_Tugas"
	colStudy      = "Jam_Belajar_Harian"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Feature{
		{Key: colAttendance, Label: "Attendance", Unit: "%", Min: 0, Max: 100, Role: schema.RoleAttendance},
		{Key: colInternal1, Label: "Internal 1", Min: 0, Max: 40, Role: schema.RoleInternal1},
		{Key: colInternal2, Label: "Internal 2", Min: 0, Max: 40, Role: schema.RoleInternal2},
		{Key: colTask, Label: "Task", Min: 0, Max: 100, Role: schema.RoleTask},
		{Key: colStudy, Label: "Study hours", Unit: "h", Min: 0, Max: 24, Role: schema.RoleStudyTime, Optional: true},
	})
	require.NoError(t, err)
	return s
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.New(policy.DefaultConfig())
	require.NoError(t, err)
	return p
}

// regressionPipeline predicts attendance + 5.
func regressionPipeline(t *testing.T) *model.Pipeline {
	t.Helper()
	p, err := model.NewPipeline(&model.Artifact{
		Name:         "academic_predictor",
		Version:      "test-reg",
		Kind:         model.KindLinearRegression,
		FeatureNames: []string{colAttendance, colInternal1, colInternal2, colTask},
		Coefficients: []float64{1, 0, 0, 0},
		Intercept:    5,
	})
	require.NoError(t, err)
	return p
}

// overflowPipeline scales attendance by 1e-308, so any real attendance
// pushes the prediction to +Inf.
func overflowPipeline(t *testing.T) *model.Pipeline {
	t.Helper()
	p, err := model.NewPipeline(&model.Artifact{
		Name:         "academic_predictor",
		Version:      "test-overflow",
		Kind:         model.KindLinearRegression,
		FeatureNames: []string{colAttendance, colInternal1, colInternal2, colTask},
		Coefficients: []float64{1, 0, 0, 0},
		Scaler: &model.ScalerParams{
			Mean:  []float64{0, 0, 0, 0},
			Scale: []float64{1e-308, 1, 1, 1},
		},
	})
	require.NoError(t, err)
	return p
}

// classifierPipeline has margin (task - 70) / 5.
func classifierPipeline(t *testing.T) *model.Pipeline {
	t.Helper()
	p, err := model.NewPipeline(&model.Artifact{
		Name:         "pass_fail",
		Version:      "test-clf",
		Kind:         model.KindLogisticRegression,
		FeatureNames: []string{colAttendance, colInternal1, colInternal2, colTask},
		Coefficients: []float64{0, 0, 0, 0.2},
		Intercept:    -14,
	})
	require.NoError(t, err)
	return p
}

func vector(attendance, i1, i2, task float64) schema.FeatureVector {
	return schema.FeatureVector{
		colAttendance: attendance,
		colInternal1:  i1,
		colInternal2:  i2,
		colTask:       task,
	}
}
