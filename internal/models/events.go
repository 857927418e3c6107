package models

// 对外事件类型（UI/工作流层消费，wire schema 固定）
const (
	EventCandidateCreated = "candidate.created"
	EventMomentReady      = "moment.ready"
	EventMomentApproved   = "moment.approved"
	EventMomentHeld       = "moment.held"
)

// CandidateEvent candidate.created 事件
type CandidateEvent struct {
	Type        string           `json:"type"`
	CandidateID string           `json:"candidate_id"`
	StreamID    string           `json:"stream_id"`
	T0          float64          `json:"t0"`
	Signals     CandidateSignals `json:"signals"`
}

// NewCandidateEvent 由候选构造事件
func NewCandidateEvent(c Candidate) CandidateEvent {
	return CandidateEvent{
		Type:        EventCandidateCreated,
		CandidateID: c.CandidateID,
		StreamID:    c.StreamID,
		T0:          c.T0,
		Signals:     c.Signals,
	}
}

// MomentReadyEvent moment.ready 事件
type MomentReadyEvent struct {
	Type         string          `json:"type"`
	MomentID     string          `json:"moment_id"`
	T0           float64         `json:"t0"`
	TR           float64         `json:"tr"`
	MomentType   MomentType      `json:"moment_type"`
	Summary      string          `json:"summary"`
	WhyItMatters []string        `json:"why_it_matters"`
	Scores       MomentScores    `json:"scores"`
	RiskNotes    []string        `json:"risk_notes"`
	ClipRecipe   []RecipeSegment `json:"clip_recipe"`
	PostCopy     PostCopy        `json:"post_copy"`
}

// NewMomentReadyEvent 由终态时刻构造事件（要求 State=READY 且分析结果存在）
func NewMomentReadyEvent(m *Moment) MomentReadyEvent {
	ev := MomentReadyEvent{
		Type:     EventMomentReady,
		MomentID: m.MomentID,
		T0:       m.T0,
	}
	if m.TR != nil {
		ev.TR = *m.TR
	}
	if m.Analysis != nil {
		ev.MomentType = m.Analysis.MomentType
		ev.Summary = m.Analysis.Summary
		ev.WhyItMatters = m.Analysis.WhyItMatters
		ev.Scores = m.Analysis.Scores
		ev.RiskNotes = m.Analysis.RiskNotes
		ev.ClipRecipe = m.Analysis.ClipRecipe
		ev.PostCopy = m.Analysis.PostCopy
	}
	if len(ev.ClipRecipe) == 0 {
		ev.ClipRecipe = m.Recipe
	}
	return ev
}

// ApprovalEvent moment.approved / moment.held 事件
type ApprovalEvent struct {
	Type     string  `json:"type"`
	MomentID string  `json:"moment_id"`
	By       string  `json:"by"` // exec / producer / social
	At       float64 `json:"at"` // unix 秒
}
