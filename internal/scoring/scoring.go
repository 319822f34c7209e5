// Package scoring 提供综合健康/准备度评分功能
//
// 评分是 FusedRecord 的纯函数：不做任何 I/O，输入相同则输出相同（ScoredAt 除外）。
// 输入缺失时按剩余权重重新归一化（优雅降级），而不是按 0 计入或直接失败。
package scoring

import (
	"math"
	"time"

	"wisefido-wellness/internal/models"
)

// 子分权重
const (
	recoveryHRVWeight   = 0.4
	recoveryRHRWeight   = 0.3
	recoverySleepWeight = 0.3

	readinessRecoveryWeight = 0.5
	readinessSleepWeight    = 0.3
	readinessActivityWeight = 0.2

	overallRecoveryWeight  = 0.35
	overallReadinessWeight = 0.25
	overallActivityWeight  = 0.20
	overallSleepWeight     = 0.20
)

// 评分基准值
const (
	hrvBaseline          = 80.0  // ms，达到即满分
	rhrBaseline          = 40.0  // bpm，理想静息心率
	optimalSleepMinutes  = 480.0 // 8 小时
	stepsTarget          = 10000.0
	activeMinutesTarget  = 30.0
)

// essentialMetrics 数据完整度评估使用的核心指标集（覆盖全部四个分类）
var essentialMetrics = []models.MetricName{
	models.MetricHRV,
	models.MetricRestingHeartRate,
	models.MetricSleepDuration,
	models.MetricSteps,
	models.MetricActiveMinutes,
	models.MetricRecoveryScoreRaw,
}

// Score 从融合记录派生评分集合
func Score(fused *models.FusedRecord) *models.ScoreSet {
	recovery := recoveryScore(fused)
	activity := activityScore(fused)
	sleep := sleepScore(fused)
	readiness := recovery*readinessRecoveryWeight + sleep*readinessSleepWeight + activity*readinessActivityWeight
	overall := recovery*overallRecoveryWeight + readiness*overallReadinessWeight +
		activity*overallActivityWeight + sleep*overallSleepWeight

	return &models.ScoreSet{
		UserID:      fused.UserID,
		Day:         fused.Day,
		Recovery:    clampRound(recovery),
		Readiness:   clampRound(readiness),
		Activity:    clampRound(activity),
		Sleep:       clampRound(sleep),
		Overall:     clampRound(overall),
		DataQuality: assessDataQuality(fused),
		ScoredAt:    time.Now(),
	}
}

// HRVSubScore HRV 子分 = min(hrv/80*100, 100)
// 导出供规则评估器使用（"hrv 子分过低"类规则）
func HRVSubScore(fused *models.FusedRecord) (float64, bool) {
	hrv, ok := fused.MetricValue(models.MetricHRV)
	if !ok {
		return 0, false
	}
	return math.Min(hrv/hrvBaseline*100, 100), true
}

// recoveryScore 恢复分：HRV/RHR/睡眠三个子分的加权组合
// 缺失的子分不按 0 计入，而是把剩余权重重新归一化到 1——
// 只有 HRV 和 RHR 数据的记录仍能得到有效恢复分
func recoveryScore(fused *models.FusedRecord) float64 {
	var weightedSum, weightTotal float64

	if hrvScore, ok := HRVSubScore(fused); ok {
		weightedSum += hrvScore * recoveryHRVWeight
		weightTotal += recoveryHRVWeight
	}
	if rhr, ok := fused.MetricValue(models.MetricRestingHeartRate); ok {
		rhrScore := math.Max(0, 100-(rhr-rhrBaseline)*2)
		weightedSum += rhrScore * recoveryRHRWeight
		weightTotal += recoveryRHRWeight
	}
	if fused.HasMetric(models.MetricSleepDuration) {
		weightedSum += sleepScore(fused) * recoverySleepWeight
		weightTotal += recoverySleepWeight
	}

	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// activityScore 活动分 = 步数达标率*0.5 + 活动分钟达标率*0.5
func activityScore(fused *models.FusedRecord) float64 {
	steps := fused.Metrics[models.MetricSteps]
	activeMinutes := fused.Metrics[models.MetricActiveMinutes]

	stepsScore := math.Min(steps/stepsTarget*100, 100)
	minutesScore := math.Min(activeMinutes/activeMinutesTarget*100, 100)
	return stepsScore*0.5 + minutesScore*0.5
}

// sleepScore 睡眠分 = min(睡眠时长/480*100, 100)
func sleepScore(fused *models.FusedRecord) float64 {
	duration := fused.Metrics[models.MetricSleepDuration]
	return math.Min(duration/optimalSleepMinutes*100, 100)
}

// assessDataQuality 数据质量评估
// completeness = 核心指标集中有数据的比例
// deviceCoverage = min(来源数*25, 100)
// score = completeness(百分制)*0.6 + coverage*0.4
func assessDataQuality(fused *models.FusedRecord) models.DataQuality {
	present := 0
	for _, metric := range essentialMetrics {
		if fused.HasMetric(metric) {
			present++
		}
	}
	completeness := float64(present) / float64(len(essentialMetrics))
	coverage := math.Min(float64(len(fused.Sources))*25, 100)
	score := completeness*100*0.6 + coverage*0.4

	confidence := models.ConfidenceHigh
	switch {
	case score < 60:
		confidence = models.ConfidenceLow
	case score < 80:
		confidence = models.ConfidenceMedium
	}

	return models.DataQuality{
		Completeness:   completeness,
		DeviceCoverage: coverage,
		Score:          score,
		Confidence:     confidence,
	}
}

// clampRound 裁剪到 [0,100] 并四舍五入到整数
func clampRound(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(math.Round(v))
}
