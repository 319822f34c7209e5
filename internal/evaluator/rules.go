package evaluator

import (
	"fmt"

	"wisefido-wellness/internal/models"
	"wisefido-wellness/internal/scoring"
)

// RuleResult 规则命中结果
type RuleResult struct {
	Reason  string
	Metrics map[string]float64
}

// Rule 干预规则：(ScoreSet/FusedRecord 上的谓词) → (类型, 级别, 建议动作, 是否需确认)
// 规则之间相互独立，一次评估可以命中多条
type Rule struct {
	Type                   string
	Severity               models.Severity
	Action                 string
	RequiresAcknowledgment bool

	// Evaluate 命中时返回非 nil 结果
	Evaluate func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult
}

// 规则阈值
const (
	overallCriticalThreshold   = 30
	hrvSubScoreCriticalThreshold = 30.0
	recoveryLowThreshold       = 40
	sleepDeficitThreshold      = 40
	readinessLowThreshold      = 35
	restingHeartRateThreshold  = 100.0
	spo2CriticalThreshold      = 90.0
)

// DefaultRules 默认规则表
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:                   "critical_recovery",
			Severity:               models.SeverityCritical,
			Action:                 "recovery_protocol",
			RequiresAcknowledgment: true,
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				if scores.Overall >= overallCriticalThreshold {
					return nil
				}
				return &RuleResult{
					Reason: fmt.Sprintf("Overall wellness score is critically low (%d)", scores.Overall),
					Metrics: map[string]float64{
						"overall":  float64(scores.Overall),
						"recovery": float64(scores.Recovery),
					},
				}
			},
		},
		{
			Type:                   "hrv_critical",
			Severity:               models.SeverityCritical,
			Action:                 "medical_consultation",
			RequiresAcknowledgment: true,
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				hrvScore, ok := scoring.HRVSubScore(fused)
				if !ok || hrvScore >= hrvSubScoreCriticalThreshold {
					return nil
				}
				hrv, _ := fused.MetricValue(models.MetricHRV)
				return &RuleResult{
					Reason: "HRV is critically low; consider medical consultation",
					Metrics: map[string]float64{
						"hrv":          hrv,
						"hrv_subscore": hrvScore,
					},
				}
			},
		},
		{
			Type:     "low_recovery",
			Severity: models.SeverityHigh,
			Action:   "rest_day",
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				if scores.Recovery >= recoveryLowThreshold {
					return nil
				}
				return &RuleResult{
					Reason:  fmt.Sprintf("Recovery score is low (%d); a rest day is recommended", scores.Recovery),
					Metrics: map[string]float64{"recovery": float64(scores.Recovery)},
				}
			},
		},
		{
			Type:     "low_readiness",
			Severity: models.SeverityHigh,
			Action:   "reduce_training",
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				if scores.Readiness >= readinessLowThreshold {
					return nil
				}
				return &RuleResult{
					Reason:  fmt.Sprintf("Readiness score is low (%d); reduce training load", scores.Readiness),
					Metrics: map[string]float64{"readiness": float64(scores.Readiness)},
				}
			},
		},
		{
			Type:     "sleep_deficit",
			Severity: models.SeverityMedium,
			Action:   "sleep_hygiene",
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				if !fused.HasMetric(models.MetricSleepDuration) || scores.Sleep >= sleepDeficitThreshold {
					return nil
				}
				duration, _ := fused.MetricValue(models.MetricSleepDuration)
				return &RuleResult{
					Reason: fmt.Sprintf("Sleep score is low (%d); review sleep hygiene", scores.Sleep),
					Metrics: map[string]float64{
						"sleep":          float64(scores.Sleep),
						"sleep_duration": duration,
					},
				}
			},
		},
		{
			Type:     "elevated_resting_heart_rate",
			Severity: models.SeverityHigh,
			Action:   "monitor_heart_rate",
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				rhr, ok := fused.MetricValue(models.MetricRestingHeartRate)
				if !ok || rhr <= restingHeartRateThreshold {
					return nil
				}
				return &RuleResult{
					Reason:  fmt.Sprintf("Resting heart rate is elevated (%.0f bpm)", rhr),
					Metrics: map[string]float64{"resting_heart_rate": rhr},
				}
			},
		},
		{
			Type:                   "low_spo2",
			Severity:               models.SeverityCritical,
			Action:                 "medical_consultation",
			RequiresAcknowledgment: true,
			Evaluate: func(scores *models.ScoreSet, fused *models.FusedRecord) *RuleResult {
				spo2, ok := fused.MetricValue(models.MetricSpO2)
				if !ok || spo2 >= spo2CriticalThreshold {
					return nil
				}
				return &RuleResult{
					Reason:  fmt.Sprintf("Blood oxygen saturation is low (%.1f%%)", spo2),
					Metrics: map[string]float64{"spo2": spo2},
				}
			},
		},
	}
}
