package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// FusedRecordsRepository 融合记录仓库
// 每个 (user_id, day) 恰好一条，重新融合时整体覆盖（融合是当前记录集合的纯函数）
type FusedRecordsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFusedRecordsRepository 创建融合记录仓库
func NewFusedRecordsRepository(db *sql.DB, logger *zap.Logger) *FusedRecordsRepository {
	return &FusedRecordsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertFusedRecord 写入或覆盖融合记录（附带当日评分）
func (r *FusedRecordsRepository) UpsertFusedRecord(ctx context.Context, fused *models.FusedRecord, scores *models.ScoreSet) error {
	if fused == nil {
		return fmt.Errorf("fused record is required")
	}
	if fused.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if fused.Day == "" {
		return fmt.Errorf("day is required")
	}

	fusedJSON, err := json.Marshal(fused)
	if err != nil {
		return fmt.Errorf("failed to marshal fused record: %w", err)
	}

	scoresJSON := []byte("null")
	if scores != nil {
		scoresJSON, err = json.Marshal(scores)
		if err != nil {
			return fmt.Errorf("failed to marshal scores: %w", err)
		}
	}

	query := `
		INSERT INTO fused_records (
			user_id,
			day,
			fused,
			scores,
			fused_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO UPDATE SET
			fused = EXCLUDED.fused,
			scores = EXCLUDED.scores,
			fused_at = EXCLUDED.fused_at
	`

	_, err = r.db.ExecContext(ctx, query,
		fused.UserID,
		fused.Day,
		fusedJSON,
		scoresJSON,
		fused.FusedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fused record: %w", err)
	}

	return nil
}

// GetFusedRecord 读取某用户某天的融合记录与评分
func (r *FusedRecordsRepository) GetFusedRecord(ctx context.Context, userID, day string) (*models.FusedRecord, *models.ScoreSet, error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("user_id is required")
	}
	if day == "" {
		return nil, nil, fmt.Errorf("day is required")
	}

	query := `
		SELECT fused, scores
		FROM fused_records
		WHERE user_id = $1
		  AND day = $2
	`

	var fusedJSON, scoresJSON []byte
	err := r.db.QueryRowContext(ctx, query, userID, day).Scan(&fusedJSON, &scoresJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("fused record not found: user_id=%s, day=%s", userID, day)
		}
		return nil, nil, fmt.Errorf("failed to get fused record: %w", err)
	}

	var fused models.FusedRecord
	if err := json.Unmarshal(fusedJSON, &fused); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal fused record: %w", err)
	}

	var scores *models.ScoreSet
	if len(scoresJSON) > 0 && string(scoresJSON) != "null" {
		scores = &models.ScoreSet{}
		if err := json.Unmarshal(scoresJSON, scores); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal scores: %w", err)
		}
	}

	return &fused, scores, nil
}
