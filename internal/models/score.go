package models

import "time"

// ConfidenceLevel 数据质量置信度分档
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// DataQuality 评分数据质量评估
type DataQuality struct {
	// Completeness 核心指标集中有数据的比例 [0,1]
	Completeness float64 `json:"completeness"`
	// DeviceCoverage 设备覆盖度 = min(来源数*25, 100)
	DeviceCoverage float64 `json:"device_coverage"`
	// Score 综合质量分 = completeness*0.6 + coverage*0.4（completeness 按百分制计）
	Score float64 `json:"score"`
	// Confidence 分档：<60 low，<80 medium，>=80 high
	Confidence ConfidenceLevel `json:"confidence"`
}

// ScoreSet 单用户单日的评分集合
// 由 Scoring Engine 从 FusedRecord 派生，每次重新融合后重算，不可单独修改
// 所有分值裁剪到 [0,100] 并取整
type ScoreSet struct {
	UserID string `json:"user_id"`
	Day    string `json:"day"`

	Recovery  int `json:"recovery"`
	Readiness int `json:"readiness"`
	Activity  int `json:"activity"`
	Sleep     int `json:"sleep"`
	Overall   int `json:"overall"`

	DataQuality DataQuality `json:"data_quality"`

	// Insight 外部协作方生成的文字洞察（只附加，不影响任何分值）
	Insight string `json:"insight,omitempty"`

	ScoredAt time.Time `json:"scored_at"`
}
