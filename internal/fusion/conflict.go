package fusion

import (
	"wisefido-wellness/internal/models"
)

// 冲突检测/裁决策略常量
const (
	// conflictThreshold 分歧比阈值，严格大于才标记冲突
	conflictThreshold = 0.30
	// highSeverityThreshold 高严重度阈值
	highSeverityThreshold = 0.50

	// 裁决置信度（策略校准值，不是物理意义上的概率）
	confidenceFallback    = 0.7
	confidenceTrustedStep = 0.9
)

// conflictWatchList 冲突检测的指标白名单（固定顺序，保证结果可复现）
var conflictWatchList = []models.MetricName{
	models.MetricSteps,
	models.MetricSleepDuration,
	models.MetricHRV,
	models.MetricCaloriesBurned,
}

// ConflictCandidate 冲突候选：某指标上 >=2 个 Provider 的分歧超过阈值
type ConflictCandidate struct {
	Metric         models.MetricName
	ValuesBySource map[string]float64
	Variance       float64
	Severity       models.ConflictSeverity
}

// detectConflicts 检测白名单指标上的 Provider 分歧
//
// 对每个白名单指标，当 >=2 个 Provider 上报了值时计算
// variance = (max-min)/max，严格大于 0.30 标记为候选；
// 大于 0.50 为 high，否则 medium
func detectConflicts(records []*models.DailyBiometricRecord) []ConflictCandidate {
	var candidates []ConflictCandidate

	for _, metric := range conflictWatchList {
		valuesBySource := make(map[string]float64)
		for _, record := range records {
			if v, ok := record.Metric(metric); ok && v != 0 {
				valuesBySource[record.ProviderID] = v
			}
		}
		if len(valuesBySource) < 2 {
			continue
		}

		first := true
		var minVal, maxVal float64
		for _, v := range valuesBySource {
			if first {
				minVal, maxVal = v, v
				first = false
				continue
			}
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}

		variance := (maxVal - minVal) / maxVal
		if variance <= conflictThreshold {
			continue
		}

		severity := models.ConflictMedium
		if variance > highSeverityThreshold {
			severity = models.ConflictHigh
		}

		candidates = append(candidates, ConflictCandidate{
			Metric:         metric,
			ValuesBySource: valuesBySource,
			Variance:       variance,
			Severity:       severity,
		})
	}

	return candidates
}

// resolve 裁决单个冲突候选
//
// 裁决策略按指标区分：
// - steps：优先计步专长 Provider（trusted_device），否则加权平均
// - hrv：优先恢复/HRV 专长 Provider（specialist_device），否则加权平均
// - 其他白名单指标：加权平均
// 所有裁决（含回退）都记入审计记录，绝不静默丢弃
func (e *Engine) resolve(candidate ConflictCandidate) models.ConflictResolution {
	resolution := models.ConflictResolution{
		Metric:            candidate.Metric,
		DisagreementRatio: candidate.Variance,
		Severity:          candidate.Severity,
		ValuesBySource:    candidate.ValuesBySource,
	}

	switch candidate.Metric {
	case models.MetricSteps:
		for _, specialistID := range e.policy.StepSpecialists {
			if v, ok := candidate.ValuesBySource[specialistID]; ok {
				resolution.ResolvedValue = v
				resolution.Method = models.MethodTrustedDevice
				resolution.Confidence = confidenceTrustedStep
				return resolution
			}
		}
	case models.MetricHRV:
		for _, specialist := range e.policy.HRVSpecialists {
			if v, ok := candidate.ValuesBySource[specialist.ProviderID]; ok {
				resolution.ResolvedValue = v
				resolution.Method = models.MethodSpecialistDevice
				resolution.Confidence = specialist.Confidence
				return resolution
			}
		}
	}

	// 回退：加权平均
	resolution.ResolvedValue = e.weightedAverageBySource(candidate.Metric, candidate.ValuesBySource)
	resolution.Method = models.MethodWeightedAverage
	resolution.Confidence = confidenceFallback
	return resolution
}

// weightedAverageBySource 对按来源分组的值做信任权重加权平均
func (e *Engine) weightedAverageBySource(metric models.MetricName, valuesBySource map[string]float64) float64 {
	category := models.MetricCategories[metric]

	var weightedSum, weightTotal float64
	for providerID, v := range valuesBySource {
		w := e.policy.Weight(providerID, category)
		weightedSum += v * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}
