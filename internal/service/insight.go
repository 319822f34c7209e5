package service

import (
	"context"
	"fmt"

	"wisefido-wellness/internal/models"
)

// TemplateInsightProvider 基于规则模板的洞察文案生成器
//
// 按整体评分分档生成文案，并点出最弱的分项；
// 数据质量低时附加覆盖度提示
type TemplateInsightProvider struct{}

// Insight 生成评分洞察文案
func (p *TemplateInsightProvider) Insight(ctx context.Context, fused *models.FusedRecord, scores *models.ScoreSet) (string, error) {
	var headline string
	switch {
	case scores.Overall >= 80:
		headline = "You are in great shape today."
	case scores.Overall >= 60:
		headline = "You are doing well today."
	case scores.Overall >= 40:
		headline = "Take it easy today."
	default:
		headline = "Your body needs rest today."
	}

	weakName, weakScore := weakestSubScore(scores)
	insight := fmt.Sprintf("%s Your weakest area is %s (%d).", headline, weakName, weakScore)

	if scores.DataQuality.Confidence == models.ConfidenceLow {
		insight += fmt.Sprintf(" Based on limited data from %d device(s).", len(fused.Sources))
	}

	return insight, nil
}

// weakestSubScore 找出最弱的分项
func weakestSubScore(scores *models.ScoreSet) (string, int) {
	name, score := "recovery", scores.Recovery
	if scores.Readiness < score {
		name, score = "readiness", scores.Readiness
	}
	if scores.Activity < score {
		name, score = "activity", scores.Activity
	}
	if scores.Sleep < score {
		name, score = "sleep", scores.Sleep
	}
	return name, score
}
