package mocks

import (
	"context"
	"errors"

	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
)

// MockPredictionService is a mock implementation of the PredictionService
// interface for testing the handler layer. It uses function-based mocking
// for flexibility.
type MockPredictionService struct {
	PredictFunc      func(ctx context.Context, v schema.FeatureVector) (*service.Prediction, error)
	PredictBatchFunc func(ctx context.Context, t *table.Table) (*service.BatchResult, error)
	ModelInfoFunc    func(ctx context.Context) (*service.ModelInfo, error)
	ReloadModelFunc  func(ctx context.Context) (*service.ModelInfo, error)
}

// Predict implements the PredictionService interface
func (m *MockPredictionService) Predict(ctx context.Context, v schema.FeatureVector) (*service.Prediction, error) {
	if m.PredictFunc != nil {
		return m.PredictFunc(ctx, v)
	}
	return nil, errors.New("PredictFunc not implemented")
}

// PredictBatch implements the PredictionService interface
func (m *MockPredictionService) PredictBatch(ctx context.Context, t *table.Table) (*service.BatchResult, error) {
	if m.PredictBatchFunc != nil {
		return m.PredictBatchFunc(ctx, t)
	}
	return nil, errors.New("PredictBatchFunc not implemented")
}

// ModelInfo implements the PredictionService interface
func (m *MockPredictionService) ModelInfo(ctx context.Context) (*service.ModelInfo, error) {
	if m.ModelInfoFunc != nil {
		return m.ModelInfoFunc(ctx)
	}
	return nil, errors.New("ModelInfoFunc not implemented")
}

// ReloadModel implements the PredictionService interface
func (m *MockPredictionService) ReloadModel(ctx context.Context) (*service.ModelInfo, error) {
	if m.ReloadModelFunc != nil {
		return m.ReloadModelFunc(ctx)
	}
	return nil, errors.New("ReloadModelFunc not implemented")
}
