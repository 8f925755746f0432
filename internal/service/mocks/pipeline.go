package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/godilite/grade-predictor/internal/model"
)

// MockPipelineProvider is a mock implementation of the PipelineProvider
// interface for testing the service layer.
type MockPipelineProvider struct {
	CurrentFunc  func() (*model.Pipeline, error)
	ReloadFunc   func(ctx context.Context) (*model.Pipeline, error)
	LoadedAtFunc func() (time.Time, bool)
	SourceName   string
}

// Current implements the PipelineProvider interface
func (m *MockPipelineProvider) Current() (*model.Pipeline, error) {
	if m.CurrentFunc != nil {
		return m.CurrentFunc()
	}
	return nil, errors.New("CurrentFunc not implemented")
}

// Reload implements the PipelineProvider interface
func (m *MockPipelineProvider) Reload(ctx context.Context) (*model.Pipeline, error) {
	if m.ReloadFunc != nil {
		return m.ReloadFunc(ctx)
	}
	return nil, errors.New("ReloadFunc not implemented")
}

// LoadedAt implements the PipelineProvider interface
func (m *MockPipelineProvider) LoadedAt() (time.Time, bool) {
	if m.LoadedAtFunc != nil {
		return m.LoadedAtFunc()
	}
	return time.Time{}, false
}

// Source implements the PipelineProvider interface
func (m *MockPipelineProvider) Source() string {
	return m.SourceName
}

// Fixed returns a provider that always serves p.
func Fixed(p *model.Pipeline) *MockPipelineProvider {
	return &MockPipelineProvider{
		CurrentFunc: func() (*model.Pipeline, error) { return p, nil },
		ReloadFunc:  func(context.Context) (*model.Pipeline, error) { return p, nil },
		SourceName:  "mock",
	}
}

// MockRecorder counts what the service reports.
type MockRecorder struct {
	mu          sync.Mutex
	Predictions map[string]int
	Grades      map[string]int
	Caps        map[string]int
	Rejected    map[string]int
	Batches     []int
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{
		Predictions: make(map[string]int),
		Grades:      make(map[string]int),
		Caps:        make(map[string]int),
		Rejected:    make(map[string]int),
	}
}

func (m *MockRecorder) RecordPrediction(task, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Predictions[task+"/"+outcome]++
}

func (m *MockRecorder) RecordGrade(grade string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Grades[grade]++
}

func (m *MockRecorder) RecordCap(rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Caps[rule]++
}

func (m *MockRecorder) RecordRejectedRow(column string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rejected[column]++
}

func (m *MockRecorder) RecordBatch(rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, rows)
}
