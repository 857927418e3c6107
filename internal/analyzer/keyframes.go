package analyzer

import (
	"math"
	"sort"

	"vibecheck-moments/internal/models"
)

// 动作时刻之前补充上下文帧的回看量（秒）
const contextLookbackS = 2.0

// SelectKeyframes 从候选帧中挑选代表帧
// 优先覆盖：动作时刻 t0、反应峰 tr、t0 之前的上下文帧；按时间戳排序，去重，至多 maxFrames 张
func SelectKeyframes(frames []*models.FrameRef, t0, tr float64, maxFrames int) []Keyframe {
	if len(frames) == 0 || maxFrames <= 0 {
		return nil
	}

	picked := make(map[uint64]*models.FrameRef)
	for _, target := range []float64{t0, tr, t0 - contextLookbackS} {
		if len(picked) >= maxFrames {
			break
		}
		if f := nearestFrame(frames, target); f != nil {
			picked[f.Seq] = f
		}
	}

	out := make([]Keyframe, 0, len(picked))
	for _, f := range picked {
		out = append(out, Keyframe{
			Timestamp: f.Timestamp,
			Width:     f.Width,
			Height:    f.Height,
			Data:      f.Data,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	if len(out) > maxFrames {
		out = out[:maxFrames]
	}
	return out
}

// nearestFrame 时间戳最接近 target 的视频帧
func nearestFrame(frames []*models.FrameRef, target float64) *models.FrameRef {
	var best *models.FrameRef
	bestDist := math.Inf(1)
	for _, f := range frames {
		if f.Kind != models.MediaFrame {
			continue
		}
		d := math.Abs(f.Timestamp - target)
		if d < bestDist {
			bestDist = d
			best = f
		}
	}
	return best
}
