package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			manager := NewManager()

			Convey("Then it owns a private registry", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Registry(), ShouldNotBeNil)
			})
		})

		Convey("When two managers are created", func() {
			Convey("Then they do not collide on registration", func() {
				So(func() {
					NewManager()
					NewManager()
				}, ShouldNotPanic)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("grading"),
				WithHistogramBuckets([]float64{0.01, 0.1, 1}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithRegistry(registry),
			)

			Convey("Then metrics use the namespace", func() {
				manager.RecordBatch(3)
				n, err := testutil.GatherAndCount(registry, "test_grading_batch_rows")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		m := NewManager(WithRegistry(prometheus.NewRegistry()))

		Convey("When predictions are recorded", func() {
			m.RecordPrediction("regression", "B", 2*time.Millisecond)
			m.RecordPrediction("regression", "B", 3*time.Millisecond)
			m.RecordPrediction("classification", "PASS", time.Millisecond)

			Convey("Then they are counted by task and outcome", func() {
				So(testutil.ToFloat64(m.predictions.WithLabelValues("regression", "B")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.predictions.WithLabelValues("classification", "PASS")), ShouldEqual, 1)
			})
		})

		Convey("When caps, grades and rejected rows are recorded", func() {
			m.RecordCap("internal_floor")
			m.RecordGrade("D")
			m.RecordRejectedRow("Attendance")
			m.RecordRejectedRow("Attendance")

			Convey("Then each counter moves", func() {
				So(testutil.ToFloat64(m.capsApplied.WithLabelValues("internal_floor")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.grades.WithLabelValues("D")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.rejectedRows.WithLabelValues("Attendance")), ShouldEqual, 2)
			})
		})

		Convey("When model loads succeed and fail", func() {
			m.RecordModelLoad(errors.New("boom"))
			So(testutil.ToFloat64(m.modelLoaded), ShouldEqual, 0)

			m.RecordModelLoad(nil)
			m.RecordModelLoad(errors.New("boom"))

			Convey("Then the gauge stays up after a failed reload", func() {
				So(testutil.ToFloat64(m.modelLoaded), ShouldEqual, 1)
				So(testutil.ToFloat64(m.modelReloads.WithLabelValues("error")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.modelReloads.WithLabelValues("ok")), ShouldEqual, 1)
			})
		})

		Convey("When gRPC calls are recorded", func() {
			m.RecordGRPCRequest("/grading.v1.GradePredictor/Predict", "OK", time.Millisecond)
			m.RecordGRPCRequest("/grading.v1.GradePredictor/Predict", "InvalidArgument", time.Millisecond)

			Convey("Then they are counted by method and code", func() {
				So(testutil.ToFloat64(m.grpcRequests.WithLabelValues("/grading.v1.GradePredictor/Predict", "OK")), ShouldEqual, 1)
				So(testutil.CollectAndCount(m.grpcRequestDuration), ShouldEqual, 1)
			})
		})

		Convey("When the handler is scraped", func() {
			m.RecordHTTPRequest("/v1/predict", http.MethodPost, http.StatusOK, 5*time.Millisecond)

			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Convey("Then the exposition contains the request counter", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(rec.Body.String(), `grader_predictor_http_requests_total{method="POST",route="/v1/predict",status_code="200"} 1`), ShouldBeTrue)
			})
		})
	})
}
