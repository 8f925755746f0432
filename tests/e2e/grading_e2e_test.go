//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/godilite/grade-predictor/internal/config"
	"github.com/godilite/grade-predictor/internal/grpc"
	"github.com/godilite/grade-predictor/internal/httpapi"
	"github.com/godilite/grade-predictor/internal/model"
	"github.com/godilite/grade-predictor/internal/service"
	"github.com/godilite/grade-predictor/internal/table"
	dbbuilder "github.com/godilite/grade-predictor/pkg/database"
	"github.com/godilite/grade-predictor/pkg/metrics"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const batchCSV = "ID_Siswa,Persentase_Kehadiran,Nilai_Internal_1,Nilai_Internal_2,Skor_Tugas\n" +
	"S1,70,36,38,90\n" +
	"S2,95,10,12,90\n" +
	"S3,90,,30,80\n" +
	"S4,101,30,30,80\n"

type stack struct {
	db      *sql.DB
	store   *model.SQLSource
	metrics *metrics.Manager
	grpc    *grpc.GRPCHandlers
	http    http.Handler
}

func loadArtifact(t *testing.T, name string) *model.Artifact {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "internal", "model", "testdata", name))
	require.NoError(t, err)
	a, err := model.Decode(data)
	require.NoError(t, err)
	return a
}

func setupStack(t *testing.T, artifact string) *stack {
	t.Helper()
	ctx := context.Background()

	db, err := dbbuilder.New(ctx,
		dbbuilder.WithDriver(dbbuilder.DriverSQLite),
		dbbuilder.WithDataSource(filepath.Join(t.TempDir(), "models.db")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := model.NewSQLSource(db, dbbuilder.DriverSQLite, "academic_predictor")
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Save(ctx, loadArtifact(t, artifact)))

	cfg := config.New()
	sch, err := cfg.Schema()
	require.NoError(t, err)
	pol, err := cfg.Policy(sch)
	require.NoError(t, err)

	m := metrics.NewManager()
	reg := model.NewRegistry(store, zap.NewNop(),
		model.WithCompatibilityCheck(service.CheckArtifact(sch)),
		model.WithLoadHook(m.RecordModelLoad),
	)
	_, err = reg.Load(ctx)
	require.NoError(t, err)

	svc := service.NewPredictionService(reg, sch, pol, zap.NewNop(),
		service.WithPassthroughColumns(cfg.BatchPassthroughColumns...),
		service.WithMedianFill(true),
		service.WithRecorder(m),
	)

	return &stack{
		db:      db,
		store:   store,
		metrics: m,
		grpc:    grpc.NewGRPCHandlers(svc, zap.NewNop(), 5*time.Second),
		http:    httpapi.NewRouter(svc, zap.NewNop(), httpapi.WithMetrics(m, m.Handler())),
	}
}

func TestE2E_PredictCapsByAttendance(t *testing.T) {
	s := setupStack(t, "regression.json")

	req, err := structpb.NewStruct(map[string]any{
		"features": map[string]any{
			"Persentase_Kehadiran": 70,
			"Nilai_Internal_1":     36,
			"Nilai_Internal_2":     38,
			"Skor_Tugas":           90,
		},
	})
	require.NoError(t, err)

	resp, err := s.grpc.Predict(context.Background(), req)
	require.NoError(t, err)

	adj := resp.GetFields()["adjustment"].GetStructValue().GetFields()
	assert.InDelta(t, 91.4, adj["raw"].GetNumberValue(), 1e-9)
	assert.Equal(t, 89.0, adj["score"].GetNumberValue())
	assert.Equal(t, "attendance", adj["cap_rule"].GetStringValue())
	assert.Equal(t, "B", adj["band"].GetStructValue().GetFields()["grade"].GetStringValue())

	caps, err := testutil.GatherAndCount(s.metrics.Registry(), "grader_predictor_caps_applied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, caps)
}

func TestE2E_BatchOverHTTP(t *testing.T) {
	s := setupStack(t, "regression.json")

	req := httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(batchCSV))
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "4", rec.Header().Get("X-Batch-Total"))
	assert.Equal(t, "3", rec.Header().Get("X-Batch-Predicted"))
	assert.Equal(t, "1", rec.Header().Get("X-Batch-Rejected"))
	assert.Equal(t, "1", rec.Header().Get("X-Batch-Filled"))

	out, err := table.ReadCSV(rec.Body)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())

	grade, _ := out.Cell(0, "Grade")
	assert.Equal(t, "B", grade)
	trace, _ := out.Cell(0, "Rule_Trace")
	assert.Equal(t, "attendance 70.0 is below 85 (needed for top band)", trace)
	score, _ := out.Cell(1, "Predicted_Final_Score")
	assert.Equal(t, "65.20", score)
	blank, _ := out.Cell(2, "Nilai_Internal_1")
	assert.Empty(t, blank, "filled cells are not written back")
	rejected, _ := out.Cell(3, "Error")
	assert.Contains(t, rejected, "Persentase_Kehadiran")
}

func TestE2E_ReloadPicksNewestVersion(t *testing.T) {
	s := setupStack(t, "regression.json")
	ctx := context.Background()

	info, err := s.grpc.GetModelInfo(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, "pt6", info.GetFields()["version"].GetStringValue())

	next := loadArtifact(t, "regression.json")
	next.Version = "pt7"
	next.Intercept = 60
	require.NoError(t, s.store.Save(ctx, next))

	reloaded, err := s.grpc.ReloadModel(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, "pt7", reloaded.GetFields()["version"].GetStringValue())

	req := httptest.NewRequest(http.MethodGet, "/v1/model", nil)
	rec := httptest.NewRecorder()
	s.http.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got service.ModelInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "pt7", got.Version)
}

func TestE2E_FailedReloadKeepsServing(t *testing.T) {
	s := setupStack(t, "regression.json")
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_artifacts (name, version, payload, created_at) VALUES (?, ?, ?, ?)`,
		"academic_predictor", "broken", `{"kind":"linear_regression"}`, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	_, err = s.grpc.ReloadModel(ctx, &structpb.Struct{})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	info, err := s.grpc.GetModelInfo(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, "pt6", info.GetFields()["version"].GetStringValue())
}

func TestE2E_ClassifierOutcome(t *testing.T) {
	s := setupStack(t, "classifier.json")

	req, err := structpb.NewStruct(map[string]any{
		"features": map[string]any{
			"Persentase_Kehadiran": 95,
			"Nilai_Internal_1":     30,
			"Nilai_Internal_2":     30,
			"Skor_Tugas":           80,
		},
	})
	require.NoError(t, err)

	resp, err := s.grpc.Predict(context.Background(), req)
	require.NoError(t, err)

	c := resp.GetFields()["classification"].GetStructValue().GetFields()
	assert.Equal(t, "PASS", c["outcome"].GetStringValue())
	assert.Greater(t, c["pass_probability"].GetNumberValue(), 50.0)
	assert.InDelta(t, 100.0, c["pass_probability"].GetNumberValue()+c["fail_probability"].GetNumberValue(), 1e-9)
}
