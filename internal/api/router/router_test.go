package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/order-reports/internal/api/dto"
	"github.com/cuongbtq/order-reports/internal/api/handler"
	"github.com/cuongbtq/order-reports/internal/artifact"
	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/cuongbtq/order-reports/internal/metrics"
	"github.com/cuongbtq/order-reports/internal/render"
	"github.com/cuongbtq/order-reports/internal/service"
	"github.com/cuongbtq/order-reports/internal/storage"
	"github.com/cuongbtq/order-reports/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualDispatcher struct {
	err    error
	queued []string
}

func (d *manualDispatcher) Dispatch(_ context.Context, jobID string) error {
	if d.err != nil {
		return d.err
	}
	d.queued = append(d.queued, jobID)
	return nil
}

type testServer struct {
	router     *gin.Engine
	jobs       *storage.MemoryJobStorage
	dispatcher *manualDispatcher
	executor   *worker.Executor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := storage.NewMemoryJobStorage()
	orders := storage.NewMemoryOrderStorage(
		&domain.Order{ID: 7, Name: "Office supplies", Items: []domain.OrderItem{{ProductName: "Pens", Quantity: 4, UnitPriceCents: 125}}},
		&domain.Order{ID: 9, Name: "Broken"},
	)
	jobs.WithOrders(orders)
	artifacts := artifact.NewMemoryStore()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	dispatcher := &manualDispatcher{}

	broken := render.Func{F: domain.FormatPDF, Fn: func(ctx context.Context, o *domain.Order, at time.Time) ([]byte, error) {
		if o.ID == 9 {
			return nil, errors.New("simulated renderer failure")
		}
		return render.NewPDFRenderer().Render(ctx, o, at)
	}}

	svc := service.NewReportService(&service.Config{
		Logger:     logger,
		Jobs:       jobs,
		Orders:     orders,
		Artifacts:  artifacts,
		Dispatcher: dispatcher,
		Metrics:    collector,
	})

	return &testServer{
		router:     SetupRouter(&handler.Dependencies{Logger: logger, Service: svc, Metrics: collector}, nil),
		jobs:       jobs,
		dispatcher: dispatcher,
		executor: worker.NewExecutor(&worker.ExecutorConfig{
			Logger:    logger,
			Jobs:      jobs,
			Orders:    orders,
			Renderers: render.NewRegistry(render.NewCSVRenderer(), broken),
			Artifacts: artifacts,
			Metrics:   collector,
			WorkerID:  "test",
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T, orderID int64, format string) dto.ReportJobDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": orderID, "format": format})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var job dto.ReportJobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	return job
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	unhealthy := SetupRouter(&handler.Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		func() error { return errors.New("database is down") })
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateReportJob(t *testing.T) {
	s := newTestServer(t)

	job := s.submit(t, 7, "csv")
	assert.Equal(t, "PENDING", job.Status)
	assert.Equal(t, "CSV", job.Format)
	assert.Equal(t, int64(7), job.OrderID)
	assert.Empty(t, job.FileName)
	assert.Nil(t, job.CompletedAt)

	rec := s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", decode[dto.ReportJobDTO](t, rec).Status)
}

func TestCreateReportJob_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "missing order_id", body: map[string]any{"format": "CSV"}, status: http.StatusBadRequest},
		{name: "unknown format", body: map[string]any{"order_id": 7, "format": "XLSX"}, status: http.StatusBadRequest},
		{name: "negative order", body: map[string]any{"order_id": -1, "format": "CSV"}, status: http.StatusBadRequest},
		{name: "unknown order", body: map[string]any{"order_id": 404, "format": "CSV"}, status: http.StatusNotFound},
		{name: "not json", body: "nope", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/report-jobs", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, s.dispatcher.queued)
}

func TestCreateReportJob_FormatDefaultsToCSV(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": 7})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[dto.ReportJobDTO](t, rec)
	assert.Equal(t, "CSV", job.Format)
	assert.Equal(t, "PENDING", job.Status)

	// The defaulted format takes part in admission control
	rec = s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": 7, "format": "csv"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, job.ID, decode[dto.ConflictResponse](t, rec).ExistingJobID)

	rec = s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": 7, "format": ""})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateReportJob_Conflict(t *testing.T) {
	s := newTestServer(t)
	first := s.submit(t, 7, "PDF")

	_, err := s.jobs.ClaimJob(context.Background(), first.ID, "test")
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": 7, "format": "PDF"})
	require.Equal(t, http.StatusConflict, rec.Code)

	conflict := decode[dto.ConflictResponse](t, rec)
	assert.Equal(t, first.ID, conflict.ExistingJobID)
	assert.Equal(t, "PROCESSING", conflict.ExistingStatus)
	assert.NotEmpty(t, conflict.Message)
}

func TestCreateReportJob_DispatchUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.dispatcher.err = errors.New("broker down")

	rec := s.do(t, http.MethodPost, "/api/v1/report-jobs", map[string]any{"order_id": 7, "format": "CSV"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/7/report-jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[dto.ListReportJobsResponse](t, rec).Jobs)
}

func TestDownloadReport(t *testing.T) {
	s := newTestServer(t)
	job := s.submit(t, 7, "CSV")

	rec := s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "not ready while PENDING")

	require.NoError(t, s.executor.Execute(context.Background(), job.ID))

	rec = s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	polled := decode[dto.ReportJobDTO](t, rec)
	assert.Equal(t, "COMPLETED", polled.Status)
	assert.True(t, strings.HasSuffix(polled.FileName, ".csv"))
	assert.Positive(t, polled.FileSize)
	assert.NotNil(t, polled.CompletedAt)

	rec = s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, polled.FileName, params["filename"])
	assert.Contains(t, rec.Body.String(), "Order Report")
	assert.Equal(t, polled.FileSize, int64(rec.Body.Len()))
}

func TestDownloadReport_Failed(t *testing.T) {
	s := newTestServer(t)
	job := s.submit(t, 9, "PDF")
	require.NoError(t, s.executor.Execute(context.Background(), job.ID))

	rec := s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[dto.ReportJobDTO](t, rec)
	assert.Equal(t, "FAILED", failed.Status)
	assert.NotEmpty(t, failed.ErrorDetail)

	rec = s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "FAILED", decode[dto.ConflictResponse](t, rec).ExistingStatus)
}

func TestDeleteReportJob(t *testing.T) {
	s := newTestServer(t)
	job := s.submit(t, 7, "CSV")
	require.NoError(t, s.executor.Execute(context.Background(), job.ID))

	rec := s.do(t, http.MethodDelete, "/api/v1/report-jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID+"/download", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/report-jobs/"+job.ID, nil).Code)
}

func TestJobIDValidation(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/report-jobs/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/report-jobs/"+uuid.NewString(), nil).Code)
}

func TestReportJob_OrderSummary(t *testing.T) {
	s := newTestServer(t)
	job := s.submit(t, 7, "CSV")

	rec := s.do(t, http.MethodGet, "/api/v1/report-jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[dto.ReportJobDTO](t, rec)
	assert.Equal(t, "Office supplies", got.OrderName)
	assert.Equal(t, "5.00", got.OrderTotal)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/7/report-jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[dto.ListReportJobsResponse](t, rec).Jobs
	require.Len(t, listed, 1)
	assert.Equal(t, "Office supplies", listed[0].OrderName)
	assert.Equal(t, "5.00", listed[0].OrderTotal)
}

func TestListReportJobs(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, 7, "CSV")
	s.submit(t, 7, "PDF")
	s.submit(t, 9, "CSV")

	rec := s.do(t, http.MethodGet, "/api/v1/report-jobs?page_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[dto.ListReportJobsResponse](t, rec)
	require.Len(t, page.Jobs, 2)
	require.NotEmpty(t, page.NextCursor)

	rec = s.do(t, http.MethodGet, "/api/v1/report-jobs?page_size=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[dto.ListReportJobsResponse](t, rec)
	require.Len(t, next.Jobs, 1)
	assert.Empty(t, next.NextCursor)

	rec = s.do(t, http.MethodGet, "/api/v1/report-jobs?order_id=7&format=pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[dto.ListReportJobsResponse](t, rec).Jobs, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/report-jobs?status=DONE", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/report-jobs?cursor=bm90LWEtY3Vyc29y", nil).Code)
}

func TestListOrderReportJobs(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, 7, "CSV")
	s.submit(t, 7, "PDF")

	rec := s.do(t, http.MethodGet, "/api/v1/orders/7/report-jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[dto.ListReportJobsResponse](t, rec).Jobs, 2)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/404/report-jobs", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders/abc/report-jobs", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.submit(t, 7, "CSV")

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `report_jobs_submitted_total{format="CSV"} 1`)
}

func TestRequestIDAndCORS(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/report-jobs", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}
