package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
	"go.uber.org/zap"
)

// Batch summary headers set on CSV responses.
const (
	headerTotal     = "X-Batch-Total"
	headerPredicted = "X-Batch-Predicted"
	headerRejected  = "X-Batch-Rejected"
	headerFilled    = "X-Batch-Filled"
)

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was written.
const statusClientClosedRequest = 499

type handlers struct {
	predictor    PredictionService
	logger       *zap.Logger
	maxBodyBytes int64
}

type predictRequest struct {
	Features map[string]any `json:"features"`
}

type errorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Row        *int     `json:"row,omitempty"`
	Field      string   `json:"field,omitempty"`
	Rule       string   `json:"rule,omitempty"`
	Value      string   `json:"value,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
}

type rejectedRow struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Value string `json:"value,omitempty"`
}

type batchResponse struct {
	Columns  []string             `json:"columns"`
	Rows     [][]string           `json:"rows"`
	Summary  service.BatchSummary `json:"summary"`
	Rejected []rejectedRow        `json:"rejected"`
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.predictor.ModelInfo(r.Context()); err != nil {
		h.respondError(w, "ready", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) modelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.predictor.ModelInfo(r.Context())
	if err != nil {
		h.respondError(w, "ModelInfo", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

func (h *handlers) reloadModel(w http.ResponseWriter, r *http.Request) {
	info, err := h.predictor.ReloadModel(r.Context())
	if err != nil {
		h.respondError(w, "ReloadModel", err)
		return
	}
	h.logger.Info("model reloaded", zap.String("name", info.Name), zap.String("version", info.Version))
	h.respondJSON(w, http.StatusOK, info)
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, "Predict", bodyError(err))
		return
	}
	if req.Features == nil {
		h.respondError(w, "Predict", apperrors.Invalid("features", "an object of feature values is required", nil))
		return
	}

	v := make(schema.FeatureVector, len(req.Features))
	for key, raw := range req.Features {
		n, ok := raw.(float64)
		if !ok {
			h.respondError(w, "Predict", apperrors.Invalid(key, "must be a number", raw))
			return
		}
		v[key] = n
	}

	pred, err := h.predictor.Predict(r.Context(), v)
	if err != nil {
		h.respondError(w, "Predict", err)
		return
	}
	h.respondJSON(w, http.StatusOK, pred)
}

// batch grades a CSV upload. The response is CSV with the summary in
// X-Batch-* headers, or JSON when the client accepts it.
func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	t, err := table.ReadCSV(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.respondError(w, "PredictBatch", bodyError(err))
		return
	}

	res, err := h.predictor.PredictBatch(r.Context(), t)
	if err != nil {
		h.respondError(w, "PredictBatch", err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		resp := batchResponse{
			Columns:  res.Table.Columns,
			Rows:     res.Table.Rows,
			Summary:  res.Summary,
			Rejected: make([]rejectedRow, 0),
		}
		for _, row := range res.Rows {
			if row.Err != nil {
				resp.Rejected = append(resp.Rejected, rejectedRow{Row: row.Err.Row, Field: row.Err.Field, Rule: row.Err.Rule, Value: row.Err.Value})
			}
		}
		h.respondJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set(headerTotal, strconv.Itoa(res.Summary.Total))
	w.Header().Set(headerPredicted, strconv.Itoa(res.Summary.Predicted))
	w.Header().Set(headerRejected, strconv.Itoa(res.Summary.Rejected))
	w.Header().Set(headerFilled, strconv.Itoa(res.Summary.FilledCells))
	w.WriteHeader(http.StatusOK)
	if err := table.WriteCSV(w, res.Table); err != nil {
		h.logger.Error("write batch response", zap.Error(err))
	}
}

// bodyError turns decode failures into input errors, keeping the size limit
// distinguishable.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, apperrors.ErrInvalidInput) {
		return err
	}
	return apperrors.Invalid("body", err.Error(), nil)
}

// StatusFromError maps service errors onto HTTP status codes and a short
// machine-readable code.
func StatusFromError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	case errors.Is(err, apperrors.ErrSchemaMismatch):
		return http.StatusBadRequest, "schema_mismatch"
	case errors.Is(err, apperrors.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handlers) respondError(w http.ResponseWriter, op string, err error) {
	status, code := StatusFromError(err)
	switch {
	case status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		h.logger.Warn("request not served", zap.String("op", op), zap.String("code", code), zap.Error(err))
	case status >= http.StatusInternalServerError:
		h.logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
	default:
		h.logger.Info("request rejected", zap.String("op", op), zap.String("code", code), zap.Error(err))
	}

	body := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		body.Error = http.StatusText(status)
	}

	var inputErr *apperrors.InputError
	if errors.As(err, &inputErr) {
		if inputErr.Row != apperrors.NoRow {
			row := inputErr.Row
			body.Row = &row
		}
		body.Field, body.Rule, body.Value = inputErr.Field, inputErr.Rule, inputErr.Value
	}
	var schemaErr *apperrors.SchemaError
	if errors.As(err, &schemaErr) {
		body.Missing, body.Unexpected = schemaErr.Missing, schemaErr.Unexpected
	}

	h.respondJSON(w, status, body)
}

// respondJSON encodes v before writing the status. A value that cannot be
// encoded is answered with a 500.
func (h *handlers) respondJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: http.StatusText(status), Code: "internal"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}
