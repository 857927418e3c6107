package lifecycle

import "vibecheck-moments/internal/models"

// FindReactionPeak 在反应加权评分序列中寻找清晰的局部最大值
//
// "清晰"的判定（可调参数见配置）：
//  1. 峰值相对两侧最低点的突出度达到 minProminence
//  2. 峰值之后至少有两个样本，且已回落至少 minProminence/2（开始下降）
//
// 返回峰值时间戳；找不到清晰峰时 ok=false，由调用方走兜底偏移策略
func FindReactionPeak(samples []models.Sample, wAudio, wBuzz, minProminence float64) (ts float64, ok bool) {
	if len(samples) < 3 {
		return 0, false
	}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = wAudio*s.AudioRMS + wBuzz*s.Buzz
	}

	// 全局最大（并列取最早）
	peak := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[peak] {
			peak = i
		}
	}

	// 峰值在序列末端：可能仍在上升，等待更多样本
	if peak == 0 || peak >= len(scores)-2 {
		return 0, false
	}

	minBefore := scores[0]
	for i := 1; i < peak; i++ {
		if scores[i] < minBefore {
			minBefore = scores[i]
		}
	}
	minAfter := scores[peak+1]
	for i := peak + 2; i < len(scores); i++ {
		if scores[i] < minAfter {
			minAfter = scores[i]
		}
	}

	base := minBefore
	if minAfter > base {
		base = minAfter
	}
	if scores[peak]-base < minProminence {
		return 0, false
	}
	// 下降判定：回落超过半个突出度阈值
	if scores[peak]-minAfter < minProminence/2 {
		return 0, false
	}

	return samples[peak].Timestamp, true
}
