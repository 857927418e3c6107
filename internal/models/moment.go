package models

import "time"

// Sample 每个提取节拍产生的一条标量信号记录（写入后不可变）
type Sample struct {
	Timestamp float64 `json:"timestamp"` // 媒体时间轴上的秒数
	Motion    float64 `json:"motion"`    // 运动能量 0-1
	AudioRMS  float64 `json:"audio_rms"` // 音频RMS 0-1（已做噪声底归一化）
	Buzz      float64 `json:"buzz"`      // 外部buzz信号 0-1
}

// MediaKind 帧引用的媒体类型
type MediaKind string

const (
	MediaFrame MediaKind = "frame"
	MediaAudio MediaKind = "audio"
)

// FrameRef 已解码视频帧或音频块的逻辑句柄
// 在保留窗口内由 Rolling Buffer 独占持有，Data 写入后不可变
type FrameRef struct {
	Timestamp float64   `json:"timestamp"`
	Kind      MediaKind `json:"kind"`
	Seq       uint64    `json:"seq"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Data      []byte    `json:"data,omitempty"`
}

// CandidateSignals 触发时刻的信号快照
type CandidateSignals struct {
	Motion   float64 `json:"motion"`
	AudioRMS float64 `json:"audio_rms"`
	Buzz     float64 `json:"buzz"`
}

// Candidate 检测器产出的候选时刻（创建后不可变，所有权移交生命周期管理器）
type Candidate struct {
	CandidateID string           `json:"candidate_id"`
	StreamID    string           `json:"stream_id"`
	T0          float64          `json:"t0"`
	Signals     CandidateSignals `json:"signals"`
}

// MomentState 时刻状态机的状态
type MomentState string

const (
	StateOpen         MomentState = "OPEN"
	StateWaitReaction MomentState = "WAIT_REACTION"
	StateFinalize     MomentState = "FINALIZE"
	StateAnalyzing    MomentState = "ANALYZING"
	StateReady        MomentState = "READY"   // 终态：成功
	StateExpired      MomentState = "EXPIRED" // 终态：缓冲区数据已淘汰
	StateFailed       MomentState = "FAILED"  // 终态：分析服务不可恢复失败
)

// IsTerminal 是否为终态
func (s MomentState) IsTerminal() bool {
	return s == StateReady || s == StateExpired || s == StateFailed
}

// 剪辑片段标签（reaction-first 叙事顺序）
const (
	LabelReactionLead   = "reaction_lead"
	LabelPlay           = "play"
	LabelReactionButton = "reaction_button"
)

// RecipeSegment 剪辑配方中的一个带标签区间 [start_s, end_s)
// 与缓冲区时间戳处于同一绝对时间轴
type RecipeSegment struct {
	Label  string  `json:"label"`
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
}

// Duration 区间长度（秒）
func (s RecipeSegment) Duration() float64 {
	return s.EndS - s.StartS
}

// 审批状态
const (
	ApprovalPending    = "pending"
	ApprovalSentToExec = "sent_to_exec"
	ApprovalApproved   = "approved"
	ApprovalHeld       = "held"
)

// Moment 候选时刻经过反应解析后的完整记录
// 仅由其生命周期管理器任务修改，终态快照持久化到外部存储
type Moment struct {
	MomentID    string          `json:"moment_id"`
	CandidateID string          `json:"candidate_id"`
	StreamID    string          `json:"stream_id"`
	T0          float64         `json:"t0"`
	TR          *float64        `json:"tr,omitempty"` // 反应峰时间，解析前为空
	State       MomentState     `json:"state"`
	Reason      string          `json:"reason,omitempty"` // 终态原因（EXPIRED/FAILED 时必填）
	Recipe      []RecipeSegment `json:"clip_recipe,omitempty"`
	Analysis    *Analysis       `json:"analysis,omitempty"`
	ClipURL     *string         `json:"clip_url,omitempty"`
	ShareCard   *string         `json:"share_card_url,omitempty"`
	Approval    string          `json:"approval_status"`
	Source      string          `json:"source"`
	SessionID   *string         `json:"session_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
