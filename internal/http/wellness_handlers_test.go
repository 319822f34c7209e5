package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"wisefido-wellness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// 测试替身
// ============================================================================

type fakeIngester struct {
	records []*models.DailyBiometricRecord
	err     error
}

func (f *fakeIngester) SubmitRecord(ctx context.Context, record *models.DailyBiometricRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type fakeScoreReader struct {
	fused  *models.FusedRecord
	scores *models.ScoreSet
	err    error
}

func (f *fakeScoreReader) GetScores(ctx context.Context, userID, day string) (*models.FusedRecord, *models.ScoreSet, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.fused, f.scores, nil
}

type fakeInterventionReader struct {
	events []*models.InterventionEvent
	err    error
}

func (f *fakeInterventionReader) ListPendingByUser(ctx context.Context, userID string) ([]*models.InterventionEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func newTestRouter(ingester *fakeIngester, scores *fakeScoreReader, interventions *fakeInterventionReader) *Router {
	logger := zap.NewNop()
	handler := NewWellnessHandler(ingester, scores, interventions, logger)
	router := NewRouter(logger)
	router.RegisterWellnessRoutes(handler, http.NotFoundHandler())
	return router
}

// ============================================================================
// 记录提交
// ============================================================================

func TestSubmitRecord_Success(t *testing.T) {
	ingester := &fakeIngester{}
	router := newTestRouter(ingester, &fakeScoreReader{}, &fakeInterventionReader{})

	body := `{"provider_id":"oura","user_id":"user-1","day":"2026-08-28","metrics":{"hrv":55.4}}`
	req := httptest.NewRequest(http.MethodPost, "/wellness/api/v1/records", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result[map[string]string]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ResultSuccess, result.Code)
	assert.Equal(t, "user-1", result.Result["user_id"])
	assert.Equal(t, "2026-08-28", result.Result["day"])

	require.Len(t, ingester.records, 1)
	assert.Equal(t, "oura", ingester.records[0].ProviderID)
	assert.False(t, ingester.records[0].ReceivedAt.IsZero())
}

func TestSubmitRecord_MissingKeyFields(t *testing.T) {
	ingester := &fakeIngester{}
	router := newTestRouter(ingester, &fakeScoreReader{}, &fakeInterventionReader{})

	body := `{"provider_id":"oura","metrics":{}}`
	req := httptest.NewRequest(http.MethodPost, "/wellness/api/v1/records", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ingester.records)
}

func TestSubmitRecord_InvalidJSON(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodPost, "/wellness/api/v1/records", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRecord_IngestFailure(t *testing.T) {
	ingester := &fakeIngester{err: fmt.Errorf("db down")}
	router := newTestRouter(ingester, &fakeScoreReader{}, &fakeInterventionReader{})

	body := `{"provider_id":"oura","user_id":"user-1","day":"2026-08-28"}`
	req := httptest.NewRequest(http.MethodPost, "/wellness/api/v1/records", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitRecord_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/records", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ============================================================================
// 评分查询
// ============================================================================

func TestGetScores_Success(t *testing.T) {
	scores := &fakeScoreReader{
		fused: &models.FusedRecord{
			UserID: "user-1",
			Day:    "2026-08-28",
		},
		scores: &models.ScoreSet{
			UserID:  "user-1",
			Day:     "2026-08-28",
			Overall: 82,
		},
	}
	router := newTestRouter(&fakeIngester{}, scores, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/scores/user-1/2026-08-28", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result[ScoresResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ResultSuccess, result.Code)
	require.NotNil(t, result.Result.Scores)
	assert.Equal(t, 82, result.Result.Scores.Overall)
	require.NotNil(t, result.Result.Fused)
	assert.Equal(t, "2026-08-28", result.Result.Fused.Day)
}

func TestGetScores_NotFound(t *testing.T) {
	scores := &fakeScoreReader{err: fmt.Errorf("no fused record")}
	router := newTestRouter(&fakeIngester{}, scores, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/scores/user-1/2026-08-28", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetScores_MalformedPath(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/scores/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// 干预事件查询
// ============================================================================

func TestGetPendingInterventions_Success(t *testing.T) {
	interventions := &fakeInterventionReader{
		events: []*models.InterventionEvent{
			{
				EventID:       "event-1",
				UserID:        "user-1",
				Type:          "critical_recovery",
				Severity:      models.SeverityCritical,
				DeliveryState: models.StateQueued,
			},
		},
	}
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, interventions)

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/interventions/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result[[]*models.InterventionEvent]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Result, 1)
	assert.Equal(t, "critical_recovery", result.Result[0].Type)
}

func TestGetPendingInterventions_Empty(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/wellness/api/v1/interventions/user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result[[]*models.InterventionEvent]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotNil(t, result.Result)
	assert.Empty(t, result.Result)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeIngester{}, &fakeScoreReader{}, &fakeInterventionReader{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
