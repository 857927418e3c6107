package models

// MomentType 分析服务给出的时刻分类
type MomentType string

const (
	MomentGoal      MomentType = "goal"
	MomentTouchdown MomentType = "touchdown"
	MomentAce       MomentType = "ace"
	MomentDunk      MomentType = "dunk"
	MomentSave      MomentType = "save"
	MomentRally     MomentType = "rally"
	MomentWinner    MomentType = "winner"
	MomentOther     MomentType = "other"
)

// ValidMomentType 是否为已知分类
func ValidMomentType(t MomentType) bool {
	switch t {
	case MomentGoal, MomentTouchdown, MomentAce, MomentDunk,
		MomentSave, MomentRally, MomentWinner, MomentOther:
		return true
	}
	return false
}

// MomentScores 热度/风险评分（0-100）
type MomentScores struct {
	Hype int `json:"hype"`
	Risk int `json:"risk"`
}

// PostCopy 三种语气的发布文案
type PostCopy struct {
	Hype      string `json:"hype"`
	Neutral   string `json:"neutral"`
	BrandSafe string `json:"brand_safe"`
}

// Analysis 分析服务返回的结构化结果（固定schema，见外部接口约定）
type Analysis struct {
	MomentType   MomentType      `json:"moment_type"`
	Summary      string          `json:"summary"`
	WhyItMatters []string        `json:"why_it_matters"`
	Scores       MomentScores    `json:"scores"`
	RiskNotes    []string        `json:"risk_notes"`
	ClipRecipe   []RecipeSegment `json:"clip_recipe"`
	PostCopy     PostCopy        `json:"post_copy"`
}

// FallbackAnalysis 分析服务不可用时的兜底结果
// 保证 FAILED 快照仍携带可供运营参考的最小分类
func FallbackAnalysis(t0, tr float64) *Analysis {
	return &Analysis{
		MomentType:   MomentOther,
		Summary:      "Exciting moment detected (automated analysis unavailable)",
		WhyItMatters: []string{"High motion and audio activity detected"},
		Scores:       MomentScores{Hype: 50, Risk: 50},
		RiskNotes:    []string{"Unreviewed: automated analysis failed"},
		PostCopy: PostCopy{
			Hype:      "What a moment!",
			Neutral:   "A notable moment from the stream.",
			BrandSafe: "A notable moment from the stream.",
		},
	}
}
