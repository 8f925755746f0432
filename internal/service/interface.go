package service

import (
	"context"
	"time"

	"github.com/godilite/grade-predictor/internal/model"
)

// PipelineProvider hands out the active model pipeline.
type PipelineProvider interface {
	Current() (*model.Pipeline, error)
	Reload(ctx context.Context) (*model.Pipeline, error)
	LoadedAt() (time.Time, bool)
	Source() string
}

// Recorder receives prediction metrics.
type Recorder interface {
	RecordPrediction(task, outcome string, took time.Duration)
	RecordGrade(grade string)
	RecordCap(rule string)
	RecordRejectedRow(column string)
	RecordBatch(rows int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPrediction(string, string, time.Duration) {}
func (nopRecorder) RecordGrade(string)                             {}
func (nopRecorder) RecordCap(string)                               {}
func (nopRecorder) RecordRejectedRow(string)                       {}
func (nopRecorder) RecordBatch(int)                                {}
