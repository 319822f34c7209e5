package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// RecordIngester 记录摄入接口（由 service 层实现）
type RecordIngester interface {
	SubmitRecord(ctx context.Context, record *models.DailyBiometricRecord) error
}

// ScoreReader 评分读取接口（由 service 层实现，优先走缓存）
type ScoreReader interface {
	GetScores(ctx context.Context, userID, day string) (*models.FusedRecord, *models.ScoreSet, error)
}

// InterventionReader 待处理干预事件读取接口
type InterventionReader interface {
	ListPendingByUser(ctx context.Context, userID string) ([]*models.InterventionEvent, error)
}

// WellnessHandler 健康评分 API 处理器
type WellnessHandler struct {
	ingester      RecordIngester
	scores        ScoreReader
	interventions InterventionReader
	logger        *zap.Logger
}

func NewWellnessHandler(
	ingester RecordIngester,
	scores ScoreReader,
	interventions InterventionReader,
	logger *zap.Logger,
) *WellnessHandler {
	return &WellnessHandler{
		ingester:      ingester,
		scores:        scores,
		interventions: interventions,
		logger:        logger,
	}
}

// ScoresResponse 评分查询响应
type ScoresResponse struct {
	Fused  *models.FusedRecord `json:"fused"`
	Scores *models.ScoreSet    `json:"scores"`
}

// POST /wellness/api/v1/records
//
// 请求体为单条 DailyBiometricRecord，同键重复提交视为记录更新，
// 会同步触发该 (user, day) 的重新融合与评分
func (h *WellnessHandler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var record models.DailyBiometricRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid record payload"))
		return
	}

	if record.ProviderID == "" || record.UserID == "" || record.Day == "" {
		writeJSON(w, http.StatusBadRequest, Fail("provider_id, user_id and day are required"))
		return
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now()
	}

	if err := h.ingester.SubmitRecord(ctx, &record); err != nil {
		h.logger.Error("Failed to ingest record",
			zap.String("provider_id", record.ProviderID),
			zap.String("user_id", record.UserID),
			zap.String("day", record.Day),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to ingest record"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]string{
		"provider_id": record.ProviderID,
		"user_id":     record.UserID,
		"day":         record.Day,
	}))
}

// GET /wellness/api/v1/scores/{userId}/{day}
func (h *WellnessHandler) GetScores(w http.ResponseWriter, r *http.Request, userID, day string) {
	ctx := r.Context()

	fused, scores, err := h.scores.GetScores(ctx, userID, day)
	if err != nil {
		writeJSON(w, http.StatusNotFound, Fail("scores not found"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(ScoresResponse{
		Fused:  fused,
		Scores: scores,
	}))
}

// GET /wellness/api/v1/interventions/{userId}
func (h *WellnessHandler) GetPendingInterventions(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()

	events, err := h.interventions.ListPendingByUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to list pending interventions",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list interventions"))
		return
	}
	if events == nil {
		events = []*models.InterventionEvent{}
	}

	writeJSON(w, http.StatusOK, Ok(events))
}
