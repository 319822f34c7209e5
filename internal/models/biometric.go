package models

import (
	"encoding/json"
	"time"
)

// MetricCategory 指标分类（用于信任权重表）
type MetricCategory string

const (
	CategoryActivity MetricCategory = "activity"
	CategoryHeart    MetricCategory = "heart"
	CategorySleep    MetricCategory = "sleep"
	CategoryRecovery MetricCategory = "recovery"
)

// MetricName 标准指标名称
// 所有 Provider 适配层必须把原始数据转换为这些标准指标
type MetricName string

const (
	MetricHRV              MetricName = "hrv"
	MetricRestingHeartRate MetricName = "restingHeartRate"
	MetricSleepDuration    MetricName = "sleepDuration"
	MetricDeepSleep        MetricName = "deepSleep"
	MetricLightSleep       MetricName = "lightSleep"
	MetricREMSleep         MetricName = "remSleep"
	MetricAwakeTime        MetricName = "awakeTime"
	MetricSteps            MetricName = "steps"
	MetricActiveMinutes    MetricName = "activeMinutes"
	MetricCaloriesBurned   MetricName = "caloriesBurned"
	MetricRecoveryScoreRaw MetricName = "recoveryScoreRaw"
	MetricStrain           MetricName = "strain"
	MetricTrainingLoad     MetricName = "trainingLoad"
	MetricTemperature      MetricName = "temperature"
	MetricSpO2             MetricName = "spo2"
	MetricRespiratoryRate  MetricName = "respiratoryRate"
)

// AllMetrics 所有标准指标（固定顺序，保证融合结果可复现）
var AllMetrics = []MetricName{
	MetricHRV,
	MetricRestingHeartRate,
	MetricSleepDuration,
	MetricDeepSleep,
	MetricLightSleep,
	MetricREMSleep,
	MetricAwakeTime,
	MetricSteps,
	MetricActiveMinutes,
	MetricCaloriesBurned,
	MetricRecoveryScoreRaw,
	MetricStrain,
	MetricTrainingLoad,
	MetricTemperature,
	MetricSpO2,
	MetricRespiratoryRate,
}

// MetricCategories 指标 → 分类映射（每个指标只属于一个分类）
var MetricCategories = map[MetricName]MetricCategory{
	MetricHRV:              CategoryHeart,
	MetricRestingHeartRate: CategoryHeart,
	MetricSleepDuration:    CategorySleep,
	MetricDeepSleep:        CategorySleep,
	MetricLightSleep:       CategorySleep,
	MetricREMSleep:         CategorySleep,
	MetricAwakeTime:        CategorySleep,
	MetricSteps:            CategoryActivity,
	MetricActiveMinutes:    CategoryActivity,
	MetricCaloriesBurned:   CategoryActivity,
	MetricRecoveryScoreRaw: CategoryRecovery,
	MetricStrain:           CategoryRecovery,
	MetricTrainingLoad:     CategoryRecovery,
	MetricTemperature:      CategoryHeart,
	MetricSpO2:             CategoryHeart,
	MetricRespiratoryRate:  CategoryHeart,
}

// decimalMetrics 保留一位小数的指标（指数类）
// 其他指标（计数/时长类）四舍五入到整数
var decimalMetrics = map[MetricName]bool{
	MetricHRV:              true,
	MetricRecoveryScoreRaw: true,
	MetricStrain:           true,
	MetricTrainingLoad:     true,
	MetricTemperature:      true,
	MetricSpO2:             true,
	MetricRespiratoryRate:  true,
}

// IsDecimalMetric 指标是否保留一位小数
func IsDecimalMetric(m MetricName) bool {
	return decimalMetrics[m]
}

// DailyBiometricRecord 单个 Provider 上报的某用户某天的生物特征记录
// 键：(provider_id, user_id, day)，接收后不可变
// 同键重复提交视为替换，并触发该 (user, day) 的重新融合
type DailyBiometricRecord struct {
	ProviderID string `json:"provider_id"`
	UserID     string `json:"user_id"`
	Day        string `json:"day"` // 日历日，格式 YYYY-MM-DD

	// 标准指标（nil 表示该 Provider 未提供该指标）
	Metrics map[MetricName]*float64 `json:"metrics"`

	// 复合指标：心率区间分钟数 / 睡眠阶段分钟数（按名称融合，不参与标量加权平均）
	HeartRateZones map[string]float64 `json:"heart_rate_zones,omitempty"`
	SleepStages    map[string]float64 `json:"sleep_stages,omitempty"`

	// Provider 原始报文（不透明，仅用于审计）
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// Metric 读取某个指标值（不存在或为 nil 时返回 ok=false）
func (r *DailyBiometricRecord) Metric(name MetricName) (float64, bool) {
	if r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// ResolutionMethod 冲突裁决方式
type ResolutionMethod string

const (
	MethodTrustedDevice    ResolutionMethod = "trusted_device"
	MethodSpecialistDevice ResolutionMethod = "specialist_device"
	MethodWeightedAverage  ResolutionMethod = "weighted_average"
)

// ConflictSeverity 冲突严重程度
type ConflictSeverity string

const (
	ConflictMedium ConflictSeverity = "medium"
	ConflictHigh   ConflictSeverity = "high"
)

// ConflictResolution 一次冲突裁决的审计记录
// 创建后不可变；重新融合会生成全新的裁决列表
type ConflictResolution struct {
	Metric            MetricName         `json:"metric"`
	DisagreementRatio float64            `json:"disagreement_ratio"`
	Severity          ConflictSeverity   `json:"severity"`
	ValuesBySource    map[string]float64 `json:"values_by_source"`
	ResolvedValue     float64            `json:"resolved_value"`
	Method            ResolutionMethod   `json:"method"`
	Confidence        float64            `json:"confidence"`
}

// FusedRecord 融合后的单用户单日记录
// 由 Fusion Engine 独占生成；每个 (user, day) 恰好一条，重新融合时整体覆盖
type FusedRecord struct {
	UserID string `json:"user_id"`
	Day    string `json:"day"`

	// 融合后的指标值。值为 0 且指标不在 MetricSources 中表示"无数据"，
	// 区别于某个 Provider 实际测得的 0
	Metrics map[MetricName]float64 `json:"metrics"`

	// 复合指标融合结果
	HeartRateZones map[string]float64 `json:"heart_rate_zones,omitempty"`
	SleepStages    map[string]float64 `json:"sleep_stages,omitempty"`

	// 参与融合的 Provider 集合（有序，便于复现）
	Sources []string `json:"sources"`

	// 每个指标的贡献来源
	MetricSources map[MetricName][]string `json:"metric_sources"`

	Conflicts []ConflictResolution `json:"conflicts"`
	FusedAt   time.Time            `json:"fused_at"`
}

// HasMetric 指标是否有真实数据（至少一个 Provider 贡献了值）
func (f *FusedRecord) HasMetric(name MetricName) bool {
	return len(f.MetricSources[name]) > 0
}

// MetricValue 读取融合指标值（无数据时返回 ok=false）
func (f *FusedRecord) MetricValue(name MetricName) (float64, bool) {
	if !f.HasMetric(name) {
		return 0, false
	}
	return f.Metrics[name], true
}
