package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/godilite/grade-predictor/internal/apperrors"
	"github.com/godilite/grade-predictor/internal/httpapi/mocks"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/policy"
	"github.com/godilite/grade-predictor/internal/schema"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
	"github.com/godilite/grade-predictor/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func samplePrediction() *service.Prediction {
	return &service.Prediction{
		Task: model.TaskRegression,
		Raw:  95,
		Adjustment: &policy.Adjustment{
			Raw: 95, Cap: 69, CapRule: policy.RuleInternalFloor, Capped: true, Score: 69,
			Band: policy.Band{Grade: "D", Label: "Needs Improvement"},
		},
		ModelVersion: "v1",
	}
}

func sampleBatch(t *testing.T, in *table.Table) *service.BatchResult {
	t.Helper()
	cols := append(append([]string{}, in.Columns...), "Predicted_Final_Score", "Grade", "Error")
	out, err := table.New(cols, [][]string{
		{"S1", "90", "88.00", "B", ""},
		{"S2", "x", "", "", "invalid input: row 1: Skor_Tugas: must be a number (got \"x\")"},
	})
	require.NoError(t, err)
	return &service.BatchResult{
		Rows: []service.RowResult{
			{Row: 0, Prediction: samplePrediction(), Filled: []string{"Jam_Belajar_Harian"}},
			{Row: 1, Err: (&apperrors.InputError{Field: "Skor_Tugas", Rule: "must be a number", Value: "x"}).AtRow(1)},
		},
		Table:   out,
		Summary: service.BatchSummary{Task: model.TaskRegression, Total: 2, Predicted: 1, Rejected: 1, FilledCells: 1},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// TestNewRouter tests the constructor
func TestNewRouter(t *testing.T) {
	t.Run("nil service panics", func(t *testing.T) {
		assert.Panics(t, func() {
			NewRouter(nil, zap.NewNop())
		})
	})

	t.Run("health endpoint", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, nil)

		rec := do(t, router, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop())

		rec := do(t, router, http.MethodGet, "/v1/nothing", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestStatusFromError tests the error to HTTP status mapping
func TestStatusFromError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", apperrors.Invalid("Skor_Tugas", "must be a number", "x"), http.StatusUnprocessableEntity, "invalid_input"},
		{"schema mismatch", &apperrors.SchemaError{Missing: []string{"Skor_Tugas"}}, http.StatusBadRequest, "schema_mismatch"},
		{"model unavailable", apperrors.Unavailable("file:m.json", errors.New("gone")), http.StatusServiceUnavailable, "model_unavailable"},
		{"load timed out", apperrors.Unavailable("file:m.json", context.DeadlineExceeded), http.StatusServiceUnavailable, "model_unavailable"},
		{"request deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
		{"client went away", context.Canceled, statusClientClosedRequest, "canceled"},
		{"body too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "body_too_large"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := StatusFromError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

// TestPredictEndpoint tests POST /v1/predict
func TestPredictEndpoint(t *testing.T) {
	t.Run("successful call", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(ctx context.Context, v schema.FeatureVector) (*service.Prediction, error) {
				assert.Equal(t, schema.FeatureVector{"Nilai_Internal_1": 10, "Skor_Tugas": 80.5}, v)
				return samplePrediction(), nil
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{"Nilai_Internal_1":10,"Skor_Tugas":80.5}}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got service.Prediction
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.NotNil(t, got.Adjustment)
		assert.Equal(t, 69.0, got.Adjustment.Score)
		assert.Equal(t, policy.RuleInternalFloor, got.Adjustment.CapRule)
		assert.Equal(t, "D", got.Adjustment.Band.Grade)
	})

	t.Run("malformed json", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "body", decodeError(t, rec).Field)
	})

	t.Run("missing features object", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"Skor_Tugas":80}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "features", decodeError(t, rec).Field)
	})

	t.Run("non-numeric feature", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{"Skor_Tugas":"eighty"}}`, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		body := decodeError(t, rec)
		assert.Equal(t, "invalid_input", body.Code)
		assert.Equal(t, "Skor_Tugas", body.Field)
		assert.Equal(t, "eighty", body.Value)
		assert.Nil(t, body.Row)
	})

	t.Run("out of range value from service", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				return nil, apperrors.Invalid("Persentase_Kehadiran", "must be between 0 and 100", 120)
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{"Persentase_Kehadiran":120}}`, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "Persentase_Kehadiran", body.Field)
		assert.Equal(t, "must be between 0 and 100", body.Rule)
	})

	t.Run("model unavailable", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				return nil, apperrors.Unavailable("file:m.json", errors.New("no artifact"))
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{}}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				return nil, errors.New("estimator exploded at 0xdeadbeef")
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{}}`, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, decodeError(t, rec).Error, "0xdeadbeef")
	})

	t.Run("unencodable prediction", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				p := samplePrediction()
				p.Raw = math.Inf(1)
				return p, nil
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{}}`, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal", decodeError(t, rec).Code)
	})

	t.Run("non-finite prediction from service", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				return nil, fmt.Errorf("%w: +Inf", service.ErrNonFinitePrediction)
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{}}`, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotEmpty(t, decodeError(t, rec).Error)
	})

	t.Run("body over the limit", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop(), WithMaxBodyBytes(16))

		rec := do(t, router, http.MethodPost, "/v1/predict", `{"features":{"Skor_Tugas":80,"Nilai_Internal_1":10}}`, nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

// TestBatchEndpoint tests POST /v1/batch
func TestBatchEndpoint(t *testing.T) {
	const upload = "ID_Siswa,Skor_Tugas\nS1,90\nS2,x\n"

	var got *table.Table
	mockSvc := &mocks.MockPredictionService{
		PredictBatchFunc: func(ctx context.Context, in *table.Table) (*service.BatchResult, error) {
			got = in
			return sampleBatch(t, in), nil
		},
	}
	router := NewRouter(mockSvc, zap.NewNop())

	t.Run("csv response", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/batch", upload, map[string]string{"Content-Type": "text/csv"})
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, []string{"ID_Siswa", "Skor_Tugas"}, got.Columns)
		assert.Equal(t, [][]string{{"S1", "90"}, {"S2", "x"}}, got.Rows)

		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "2", rec.Header().Get(headerTotal))
		assert.Equal(t, "1", rec.Header().Get(headerPredicted))
		assert.Equal(t, "1", rec.Header().Get(headerRejected))
		assert.Equal(t, "1", rec.Header().Get(headerFilled))

		out, err := table.ReadCSV(rec.Body)
		require.NoError(t, err)
		assert.Equal(t, []string{"ID_Siswa", "Skor_Tugas", "Predicted_Final_Score", "Grade", "Error"}, out.Columns)
		assert.Equal(t, 2, out.Len())
		grade, _ := out.Cell(0, "Grade")
		assert.Equal(t, "B", grade)
	})

	t.Run("json response", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/batch", upload, map[string]string{"Accept": "application/json"})
		require.Equal(t, http.StatusOK, rec.Code)

		var body batchResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 1, body.Summary.Rejected)
		require.Len(t, body.Rejected, 1)
		assert.Equal(t, rejectedRow{Row: 1, Field: "Skor_Tugas", Rule: "must be a number", Value: "x"}, body.Rejected[0])
		assert.Len(t, body.Rows, 2)
	})

	t.Run("empty upload", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/batch", "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "csv", decodeError(t, rec).Field)
	})

	t.Run("schema mismatch lists columns", func(t *testing.T) {
		mismatch := &mocks.MockPredictionService{
			PredictBatchFunc: func(context.Context, *table.Table) (*service.BatchResult, error) {
				return nil, &apperrors.SchemaError{Missing: []string{"Nilai_Internal_2"}, Unexpected: []string{"Kelas"}}
			},
		}
		rec := do(t, NewRouter(mismatch, zap.NewNop()), http.MethodPost, "/v1/batch", "Kelas\nX\n", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeError(t, rec)
		assert.Equal(t, "schema_mismatch", body.Code)
		assert.Equal(t, []string{"Nilai_Internal_2"}, body.Missing)
		assert.Equal(t, []string{"Kelas"}, body.Unexpected)
	})
}

// TestModelEndpoints tests model info, reload and readiness
func TestModelEndpoints(t *testing.T) {
	info := &service.ModelInfo{Name: "academic_predictor", Version: "v2", Kind: model.KindLinearRegression, Task: model.TaskRegression}

	t.Run("model info", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			ModelInfoFunc: func(context.Context) (*service.ModelInfo, error) { return info, nil },
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodGet, "/v1/model", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got service.ModelInfo
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "v2", got.Version)

		assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/readyz", "", nil).Code)
	})

	t.Run("reload", func(t *testing.T) {
		calls := 0
		mockSvc := &mocks.MockPredictionService{
			ReloadModelFunc: func(context.Context) (*service.ModelInfo, error) {
				calls++
				return info, nil
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		rec := do(t, router, http.MethodPost, "/v1/model/reload", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, calls)

		rec = do(t, router, http.MethodGet, "/v1/model/reload", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("not ready without a model", func(t *testing.T) {
		mockSvc := &mocks.MockPredictionService{
			ModelInfoFunc: func(context.Context) (*service.ModelInfo, error) {
				return nil, apperrors.Unavailable("current", errors.New("no model loaded"))
			},
		}
		router := NewRouter(mockSvc, zap.NewNop())

		assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/readyz", "", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/v1/model", "", nil).Code)
	})
}

// TestMiddleware tests CORS and request metrics
func TestMiddleware(t *testing.T) {
	t.Run("cors preflight", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop(), WithCORSOrigins("http://localhost:3000"))

		rec := do(t, router, http.MethodOptions, "/v1/predict", "", map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": http.MethodPost,
		})
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("cors rejects unknown origins", func(t *testing.T) {
		router := NewRouter(&mocks.MockPredictionService{}, zap.NewNop(), WithCORSOrigins("http://localhost:3000"))

		rec := do(t, router, http.MethodOptions, "/v1/predict", "", map[string]string{
			"Origin":                        "http://evil.example.com",
			"Access-Control-Request-Method": http.MethodPost,
		})
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request metrics use route patterns", func(t *testing.T) {
		m := metrics.NewManager()
		mockSvc := &mocks.MockPredictionService{
			PredictFunc: func(context.Context, schema.FeatureVector) (*service.Prediction, error) {
				return samplePrediction(), nil
			},
		}
		router := NewRouter(mockSvc, zap.NewNop(), WithMetrics(m, m.Handler()), WithTimeout(5*time.Second))

		require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/predict", `{"features":{}}`, nil).Code)
		require.Equal(t, http.StatusUnprocessableEntity, do(t, router, http.MethodPost, "/v1/predict", `{}`, nil).Code)

		rec := do(t, router, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)

		assert.Contains(t, string(body), `grader_predictor_http_requests_total{method="POST",route="/v1/predict",status_code="200"} 1`)
		assert.Contains(t, string(body), `grader_predictor_http_requests_total{method="POST",route="/v1/predict",status_code="422"} 1`)
	})
}
