package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pb "github.com/godilite/grade-predictor/api/v1"
	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/table"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultGRPCTimeout = 10 * time.Second

type GRPCHandlers struct {
	pb.UnimplementedGradePredictorServer
	predictor PredictionService
	logger    *zap.Logger
	timeout   time.Duration
}

// NewGRPCHandlers initializes the gRPC handlers.
func NewGRPCHandlers(predictor PredictionService, logger *zap.Logger, timeout time.Duration) *GRPCHandlers {
	if predictor == nil {
		panic("nil PredictionService provided to NewGRPCHandlers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultGRPCTimeout
	}
	return &GRPCHandlers{
		predictor: predictor,
		logger:    logger.Named("grpc-handler"),
		timeout:   timeout,
	}
}

// StatusFromError maps service errors onto gRPC status codes.
func StatusFromError(ctx context.Context, err error) *status.Status {
	switch ctx.Err() {
	case context.Canceled:
		return status.New(codes.Canceled, "request canceled")
	case context.DeadlineExceeded:
		return status.New(codes.DeadlineExceeded, "request timed out")
	}

	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, apperrors.ErrSchemaMismatch):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, apperrors.ErrModelUnavailable):
		return status.New(codes.Unavailable, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}

func (s *GRPCHandlers) handleError(ctx context.Context, op string, err error) error {
	st := StatusFromError(ctx, err)
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.Canceled:
		s.logger.Info("request rejected", zap.String("op", op), zap.String("code", st.Code().String()), zap.Error(err))
	case codes.Unavailable, codes.DeadlineExceeded:
		s.logger.Warn("request not served", zap.String("op", op), zap.String("code", st.Code().String()), zap.Error(err))
	default:
		s.logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
	}
	return st.Err()
}

func (s *GRPCHandlers) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, err := featuresFromRequest(req)
	if err != nil {
		return nil, s.handleError(ctx, "Predict", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pred, err := s.predictor.Predict(ctx, v)
	if err != nil {
		return nil, s.handleError(ctx, "Predict", err)
	}
	return toStruct(pred)
}

func (s *GRPCHandlers) PredictBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	t, err := tableFromRequest(req)
	if err != nil {
		return nil, s.handleError(ctx, "PredictBatch", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.predictor.PredictBatch(ctx, t)
	if err != nil {
		return nil, s.handleError(ctx, "PredictBatch", err)
	}

	rejected := make([]map[string]any, 0)
	for _, r := range res.Rows {
		if r.Err == nil {
			continue
		}
		rejected = append(rejected, map[string]any{
			"row":   r.Err.Row,
			"field": r.Err.Field,
			"rule":  r.Err.Rule,
			"value": r.Err.Value,
		})
	}

	return toStruct(map[string]any{
		"columns":  res.Table.Columns,
		"rows":     res.Table.Rows,
		"summary":  res.Summary,
		"rejected": rejected,
	})
}

func (s *GRPCHandlers) GetModelInfo(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	info, err := s.predictor.ModelInfo(ctx)
	if err != nil {
		return nil, s.handleError(ctx, "GetModelInfo", err)
	}
	return toStruct(info)
}

func (s *GRPCHandlers) ReloadModel(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	info, err := s.predictor.ReloadModel(ctx)
	if err != nil {
		return nil, s.handleError(ctx, "ReloadModel", err)
	}
	s.logger.Info("model reloaded", zap.String("name", info.Name), zap.String("version", info.Version))
	return toStruct(info)
}

func featuresFromRequest(req *structpb.Struct) (schema.FeatureVector, error) {
	fv, ok := req.GetFields()["features"]
	if !ok || fv.GetStructValue() == nil {
		return nil, apperrors.Invalid("features", "an object of feature values is required", nil)
	}

	v := make(schema.FeatureVector)
	for key, val := range fv.GetStructValue().GetFields() {
		n, ok := val.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, apperrors.Invalid(key, "must be a number", val.AsInterface())
		}
		v[key] = n.NumberValue
	}
	return v, nil
}

func tableFromRequest(req *structpb.Struct) (*table.Table, error) {
	fields := req.GetFields()
	if csv, ok := fields["csv"]; ok {
		return table.ReadCSV(strings.NewReader(csv.GetStringValue()))
	}

	cols := fields["columns"].GetListValue()
	if cols == nil {
		return nil, apperrors.Invalid("columns", "a csv string or a column list is required", nil)
	}
	columns := make([]string, len(cols.GetValues()))
	for i, c := range cols.GetValues() {
		columns[i] = cellString(c)
	}

	rowVals := fields["rows"].GetListValue().GetValues()
	rows := make([][]string, len(rowVals))
	for i, rv := range rowVals {
		list := rv.GetListValue()
		if list == nil {
			return nil, (&apperrors.InputError{Field: "rows", Rule: "each row must be a list"}).AtRow(i)
		}
		row := make([]string, len(list.GetValues()))
		for j, c := range list.GetValues() {
			row[j] = cellString(c)
		}
		rows[i] = row
	}
	return table.New(columns, rows)
}

func cellString(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

// toStruct converts a JSON-shaped value into a Struct message.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}
