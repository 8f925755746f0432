package grpc

import (
	"context"

	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
)

type PredictionService interface {
	Predict(ctx context.Context, v schema.FeatureVector) (*service.Prediction, error)
	PredictBatch(ctx context.Context, t *table.Table) (*service.BatchResult, error)
	ModelInfo(ctx context.Context) (*service.ModelInfo, error)
	ReloadModel(ctx context.Context) (*service.ModelInfo, error)
}
