package fusion

import (
	"sort"

	"wisefido-wellness/internal/models"
)

// SpecialistRef 专长设备引用（带裁决置信度）
type SpecialistRef struct {
	ProviderID string
	// Confidence 裁决置信度
	// 注意：这些是策略校准值，不是物理意义上的概率，后续可按实测调整
	Confidence float64
}

// TrustPolicy Provider 信任策略
//
// 把原来散落在各融合函数里的优先级/权重字面量集中为一个可审查、可替换的
// 配置结构，整体注入 Fusion Engine
type TrustPolicy struct {
	// CategoryPriority 每个指标分类下 Provider 的优先顺序（决定收集值的顺序）
	CategoryPriority map[models.MetricCategory][]string

	// Weights Provider × 分类 → 信任权重 (0,1]
	Weights map[string]map[models.MetricCategory]float64

	// DefaultWeight 未配置权重的 Provider 使用的默认值
	DefaultWeight float64

	// StepSpecialists 计步专长 Provider（按优先序）
	StepSpecialists []string

	// HRVSpecialists 恢复/HRV 传感专长 Provider（按优先序）
	HRVSpecialists []SpecialistRef
}

// DefaultTrustPolicy 默认信任策略
func DefaultTrustPolicy() *TrustPolicy {
	return &TrustPolicy{
		CategoryPriority: map[models.MetricCategory][]string{
			models.CategoryHeart:    {"whoop", "oura", "polar", "apple_health", "garmin", "fitbit"},
			models.CategorySleep:    {"oura", "whoop", "fitbit", "garmin", "polar", "apple_health"},
			models.CategoryActivity: {"garmin", "fitbit", "apple_health", "polar", "whoop", "oura"},
			models.CategoryRecovery: {"whoop", "oura", "garmin", "polar", "fitbit", "apple_health"},
		},
		Weights: map[string]map[models.MetricCategory]float64{
			"whoop": {
				models.CategoryRecovery: 0.95,
				models.CategoryHeart:    0.95,
				models.CategorySleep:    0.8,
				models.CategoryActivity: 0.6,
			},
			"oura": {
				models.CategoryRecovery: 0.9,
				models.CategoryHeart:    0.9,
				models.CategorySleep:    0.95,
				models.CategoryActivity: 0.5,
			},
			"garmin": {
				models.CategoryActivity: 0.9,
				models.CategoryHeart:    0.7,
				models.CategorySleep:    0.7,
				models.CategoryRecovery: 0.6,
			},
			"fitbit": {
				models.CategoryActivity: 0.85,
				models.CategorySleep:    0.75,
				models.CategoryHeart:    0.65,
				models.CategoryRecovery: 0.5,
			},
			"apple_health": {
				models.CategoryActivity: 0.8,
				models.CategoryHeart:    0.75,
				models.CategorySleep:    0.6,
				models.CategoryRecovery: 0.5,
			},
			"polar": {
				models.CategoryHeart:    0.8,
				models.CategoryActivity: 0.75,
				models.CategoryRecovery: 0.6,
				models.CategorySleep:    0.6,
			},
		},
		DefaultWeight:   0.5,
		StepSpecialists: []string{"garmin", "fitbit"},
		HRVSpecialists: []SpecialistRef{
			{ProviderID: "whoop", Confidence: 0.95},
			{ProviderID: "oura", Confidence: 0.9},
		},
	}
}

// Weight 读取 Provider 在某分类下的权重（未配置时返回 DefaultWeight）
func (p *TrustPolicy) Weight(providerID string, category models.MetricCategory) float64 {
	if byCategory, ok := p.Weights[providerID]; ok {
		if w, ok := byCategory[category]; ok {
			return w
		}
	}
	return p.DefaultWeight
}

// priorityRank Provider 在分类优先级表中的序号
// 不在表中的 Provider 排在所有已配置 Provider 之后
func (p *TrustPolicy) priorityRank(providerID string, category models.MetricCategory) int {
	priority := p.CategoryPriority[category]
	for i, id := range priority {
		if id == providerID {
			return i
		}
	}
	return len(priority)
}

// sortProviders 按分类优先级排序 Provider 列表
// 同级（都不在优先级表中）按字典序，保证融合结果可复现
func (p *TrustPolicy) sortProviders(providerIDs []string, category models.MetricCategory) []string {
	sorted := make([]string, len(providerIDs))
	copy(sorted, providerIDs)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := p.priorityRank(sorted[i], category), p.priorityRank(sorted[j], category)
		if ri != rj {
			return ri < rj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}
