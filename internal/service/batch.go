package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/table"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Columns appended to every batch output row.
const (
	ColumnScore       = "Predicted_Final_Score"
	ColumnGrade       = "Grade"
	ColumnTrace       = "Rule_Trace"
	ColumnPrediction  = "Prediction"
	ColumnProbability = "Pass_Probability"
	ColumnError       = "Error"
)

// PredictBatch grades every row of t. The header must match the schema
// before any row is looked at. Rows with bad cells are rejected one by one
// and reported in place; the output always has one row per input row, in
// input order. An estimator failure aborts the whole batch.
func (s *PredictionService) PredictBatch(ctx context.Context, t *table.Table) (*BatchResult, error) {
	if err := s.schema.MatchColumns(t.Columns, s.passthrough); err != nil {
		return nil, err
	}

	p, err := s.models.Current()
	if err != nil {
		return nil, err
	}
	if err := requireModelColumns(t, p); err != nil {
		return nil, err
	}
	appended := outputColumns(p.Task())
	for _, c := range appended {
		if _, clash := t.ColumnIndex(c); clash {
			return nil, &apperrors.SchemaError{Unexpected: []string{c}}
		}
	}

	s.recorder.RecordBatch(t.Len())

	var medians map[string]float64
	if s.medianFill {
		medians = s.columnMedians(t)
	}

	results := make([]RowResult, t.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range results {
		results[i].Row = i
		v, filled, ierr := s.parseRow(t, i, medians)
		results[i].Filled = filled
		if ierr != nil {
			results[i].Err = ierr
			s.recorder.RecordRejectedRow(ierr.Field)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			pred, err := s.evaluate(p, v)
			var ie *apperrors.InputError
			switch {
			case errors.As(err, &ie):
				results[i].Err = ie.AtRow(i)
				s.recorder.RecordRejectedRow(ie.Field)
				return nil
			case err != nil:
				return fmt.Errorf("row %d: %w", i, err)
			}
			s.record(pred, time.Since(start))
			results[i].Prediction = pred
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("batch aborted", zap.Int("rows", t.Len()), zap.Error(err))
		return nil, err
	}

	out, err := outputTable(t, appended, results)
	if err != nil {
		return nil, err
	}
	summary := summarize(p.Task(), results)

	s.logger.Info("batch graded",
		zap.Int("rows", summary.Total),
		zap.Int("predicted", summary.Predicted),
		zap.Int("rejected", summary.Rejected),
		zap.Int("filled_cells", summary.FilledCells))

	return &BatchResult{Rows: results, Table: out, Summary: summary}, nil
}

// requireModelColumns catches optional schema features the model still needs.
func requireModelColumns(t *table.Table, p *model.Pipeline) error {
	var missing []string
	for _, name := range p.FeatureNames() {
		if _, ok := t.ColumnIndex(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &apperrors.SchemaError{Missing: missing}
	}
	return nil
}

// parseRow turns row i into a validated feature vector.
func (s *PredictionService) parseRow(t *table.Table, i int, medians map[string]float64) (schema.FeatureVector, []string, *apperrors.InputError) {
	if t.Ragged(i) {
		rule := fmt.Sprintf("has %d cells but the header has %d", len(t.Rows[i]), len(t.Columns))
		return nil, nil, (&apperrors.InputError{Field: "row", Rule: rule}).AtRow(i)
	}

	v := make(schema.FeatureVector, len(s.schema.Keys()))
	var filled []string
	for _, f := range s.schema.Features() {
		cell, ok := t.Cell(i, f.Key)
		if !ok {
			continue
		}
		if cell == "" {
			if m, ok := medians[f.Key]; ok {
				v[f.Key] = m
				filled = append(filled, f.Key)
				continue
			}
			if f.Optional {
				continue
			}
			return nil, filled, (&apperrors.InputError{Field: f.Key, Rule: "value is missing"}).AtRow(i)
		}

		val, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, filled, (&apperrors.InputError{Field: f.Key, Rule: "must be a number", Value: cell}).AtRow(i)
		}
		if ie := f.Check(val); ie != nil {
			return nil, filled, ie.AtRow(i)
		}
		v[f.Key] = val
	}

	if err := s.schema.Validate(v); err != nil {
		var ie *apperrors.InputError
		if errors.As(err, &ie) {
			return nil, filled, ie.AtRow(i)
		}
		return nil, filled, (&apperrors.InputError{Field: "row", Rule: err.Error()}).AtRow(i)
	}
	return v, filled, nil
}

// columnMedians computes, per feature column, the median of the cells that
// parse and fall inside the feature's range. Columns with no usable cell
// get no median.
func (s *PredictionService) columnMedians(t *table.Table) map[string]float64 {
	medians := make(map[string]float64)
	for _, f := range s.schema.Features() {
		if _, ok := t.ColumnIndex(f.Key); !ok {
			continue
		}
		var vals []float64
		for i := range t.Rows {
			cell, ok := t.Cell(i, f.Key)
			if !ok || cell == "" {
				continue
			}
			val, err := strconv.ParseFloat(cell, 64)
			if err != nil || f.Check(val) != nil {
				continue
			}
			vals = append(vals, val)
		}
		if len(vals) > 0 {
			medians[f.Key] = median(vals)
		}
	}
	return medians
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func outputColumns(task model.Task) []string {
	if task == model.TaskClassification {
		return []string{ColumnPrediction, ColumnProbability, ColumnError}
	}
	return []string{ColumnScore, ColumnGrade, ColumnTrace, ColumnError}
}

func outputTable(in *table.Table, appended []string, results []RowResult) (*table.Table, error) {
	columns := append(append([]string(nil), in.Columns...), appended...)
	rows := make([][]string, len(results))
	for i, r := range results {
		row := make([]string, len(in.Columns), len(columns))
		copy(row, in.Rows[i])

		// Values follow outputColumns; the error is always last.
		vals := make([]string, len(appended))
		switch {
		case r.Err != nil:
			vals[len(vals)-1] = r.Err.Error()
		case r.Prediction.Adjustment != nil:
			adj := r.Prediction.Adjustment
			vals[0], vals[1], vals[2] = formatFloat(adj.Score), adj.Band.Grade, adj.Explain()
		case r.Prediction.Classification != nil:
			c := r.Prediction.Classification
			vals[0], vals[1] = string(c.Outcome), formatFloat(c.PassProbability)
		}
		rows[i] = append(row, vals...)
	}
	return table.New(columns, rows)
}

func summarize(task model.Task, results []RowResult) BatchSummary {
	sum := BatchSummary{Task: task, Total: len(results), Counts: make(map[string]int)}
	scores := make([]float64, 0, len(results))
	for _, r := range results {
		sum.FilledCells += len(r.Filled)
		if r.Err != nil {
			sum.Rejected++
			continue
		}
		sum.Predicted++
		sum.Counts[r.Prediction.Outcome()]++

		if adj := r.Prediction.Adjustment; adj != nil {
			scores = append(scores, adj.Score)
		} else if c := r.Prediction.Classification; c != nil {
			scores = append(scores, c.PassProbability)
		}
	}

	if len(scores) > 0 {
		sum.MeanScore = mean(scores)
		sum.MinScore, sum.MaxScore = math.Inf(1), math.Inf(-1)
		for _, x := range scores {
			sum.MinScore = math.Min(sum.MinScore, x)
			sum.MaxScore = math.Max(sum.MaxScore, x)
		}
	}
	return sum
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
