// Package fusion 提供多 Provider 生物特征数据融合功能
//
// 主要功能：
// - 把同一用户同一天的 N 条 Provider 记录逐指标融合为一条可信记录
// - 融合规则：
//   - 无值：融合值为 0（指标不出现在 MetricSources 中，区别于实测 0）
//   - 单值：直接使用
//   - 多值：按 Provider × 分类信任权重加权平均
// - 冲突检测与裁决在融合内联执行（见 conflict.go），裁决结果覆盖被标记指标
// - 复合指标（心率区间/睡眠阶段分钟数）按名称求和后除以贡献来源数
//
// 融合是纯函数：同一输入记录集合总是产生相同的融合结果（FusedAt 除外），
// 保证测试可复现，也保证迟到记录触发的重新融合是安全的
package fusion

import (
	"errors"
	"math"
	"sort"
	"time"

	"wisefido-wellness/internal/models"

	"go.uber.org/zap"
)

// ErrInsufficientData 融合输入为空
var ErrInsufficientData = errors.New("insufficient data: no provider records for day")

// Engine 融合引擎
type Engine struct {
	policy *TrustPolicy
	logger *zap.Logger
}

// NewEngine 创建融合引擎
func NewEngine(policy *TrustPolicy, logger *zap.Logger) *Engine {
	if policy == nil {
		policy = DefaultTrustPolicy()
	}
	return &Engine{
		policy: policy,
		logger: logger,
	}
}

// metricValue 收集到的单个 Provider 指标值
type metricValue struct {
	providerID string
	value      float64
}

// Fuse 融合某用户某天的所有 Provider 记录
//
// 输入为空时返回 ErrInsufficientData，不产生 FusedRecord
func (e *Engine) Fuse(userID, day string, records []*models.DailyBiometricRecord) (*models.FusedRecord, error) {
	if len(records) == 0 {
		return nil, ErrInsufficientData
	}

	fused := &models.FusedRecord{
		UserID:        userID,
		Day:           day,
		Metrics:       make(map[models.MetricName]float64, len(models.AllMetrics)),
		MetricSources: make(map[models.MetricName][]string),
		Sources:       recordSources(records),
		FusedAt:       time.Now(),
	}

	// 1. 逐指标融合标量值
	for _, metric := range models.AllMetrics {
		values := e.collectValues(metric, records)
		switch len(values) {
		case 0:
			// 无数据：显式 0，且不记录来源
			fused.Metrics[metric] = 0
		case 1:
			fused.Metrics[metric] = roundMetric(metric, values[0].value)
			fused.MetricSources[metric] = []string{values[0].providerID}
		default:
			fused.Metrics[metric] = roundMetric(metric, e.weightedAverage(metric, values))
			providers := make([]string, 0, len(values))
			for _, v := range values {
				providers = append(providers, v.providerID)
			}
			fused.MetricSources[metric] = providers
		}
	}

	// 2. 复合指标：同名区间/阶段分钟数求和后除以贡献来源数
	fused.HeartRateZones = fuseNamedMinutes(records, func(r *models.DailyBiometricRecord) map[string]float64 {
		return r.HeartRateZones
	})
	fused.SleepStages = fuseNamedMinutes(records, func(r *models.DailyBiometricRecord) map[string]float64 {
		return r.SleepStages
	})

	// 3. 冲突检测与裁决，裁决结果覆盖被标记指标的融合值
	candidates := detectConflicts(records)
	for _, candidate := range candidates {
		resolution := e.resolve(candidate)
		fused.Metrics[resolution.Metric] = roundMetric(resolution.Metric, resolution.ResolvedValue)
		fused.Conflicts = append(fused.Conflicts, resolution)
	}

	if len(fused.Conflicts) > 0 {
		e.logger.Info("Fused record with conflicts",
			zap.String("user_id", userID),
			zap.String("day", day),
			zap.Int("source_count", len(fused.Sources)),
			zap.Int("conflict_count", len(fused.Conflicts)),
		)
	}

	return fused, nil
}

// collectValues 按分类优先级收集某指标的非空非零值
func (e *Engine) collectValues(metric models.MetricName, records []*models.DailyBiometricRecord) []metricValue {
	category := models.MetricCategories[metric]

	byProvider := make(map[string]float64)
	providers := make([]string, 0, len(records))
	for _, record := range records {
		v, ok := record.Metric(metric)
		if !ok || v == 0 {
			continue
		}
		if _, seen := byProvider[record.ProviderID]; !seen {
			providers = append(providers, record.ProviderID)
		}
		byProvider[record.ProviderID] = v
	}

	values := make([]metricValue, 0, len(providers))
	for _, providerID := range e.policy.sortProviders(providers, category) {
		values = append(values, metricValue{providerID: providerID, value: byProvider[providerID]})
	}
	return values
}

// weightedAverage 信任权重加权平均
func (e *Engine) weightedAverage(metric models.MetricName, values []metricValue) float64 {
	category := models.MetricCategories[metric]

	var weightedSum, weightTotal float64
	for _, v := range values {
		w := e.policy.Weight(v.providerID, category)
		weightedSum += v.value * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// fuseNamedMinutes 融合按名称分组的分钟数（心率区间/睡眠阶段）
// 规则：同名值跨来源求和，再除以上报该名称的来源数
func fuseNamedMinutes(records []*models.DailyBiometricRecord, extract func(*models.DailyBiometricRecord) map[string]float64) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, record := range records {
		for name, minutes := range extract(record) {
			sums[name] += minutes
			counts[name]++
		}
	}
	if len(sums) == 0 {
		return nil
	}

	result := make(map[string]float64, len(sums))
	for name, total := range sums {
		result[name] = math.Round(total / float64(counts[name]))
	}
	return result
}

// recordSources 输入记录的 Provider 集合（去重、有序）
func recordSources(records []*models.DailyBiometricRecord) []string {
	seen := make(map[string]bool, len(records))
	sources := make([]string, 0, len(records))
	for _, record := range records {
		if !seen[record.ProviderID] {
			seen[record.ProviderID] = true
			sources = append(sources, record.ProviderID)
		}
	}
	sort.Strings(sources)
	return sources
}

// roundMetric 按指标固有精度取整：指数类保留一位小数，计数/时长类取整数
func roundMetric(metric models.MetricName, value float64) float64 {
	if models.IsDecimalMetric(metric) {
		return math.Round(value*10) / 10
	}
	return math.Round(value)
}
