package extract

import (
	"math"
	"sync"

	"vibecheck-moments/internal/models"

	"go.uber.org/zap"
)

// Unit 一个待提取的已解码逻辑单元（帧或音频块）
// Luma 为灰度像素（视频帧），PCM 为 [-1,1] 浮点采样（音频块）；两者可同时存在
// Err 非空表示该单元解码失败，提取器跳过并计数，绝不跨单元抛出
type Unit struct {
	Timestamp float64
	Luma      []byte
	Width     int
	Height    int
	PCM       []float64
	Err       error
}

// motion 分量权重（帧差/直方图变化/边缘能量）
const (
	wFrameDiff   = 0.5
	wSceneChange = 0.3
	wEdgeEnergy  = 0.2

	// 帧差中视为"变化"的像素阈值
	pixelDeltaThreshold = 25

	histBins = 16

	// 噪声底/峰值参考的自适应速率
	floorRiseAlpha = 0.005
	peakDecayAlpha = 0.002
)

// Extractor 信号提取器
// 将原始帧/音频采样转为标量信号；逐单元无状态计算 + 少量跨帧参考状态
type Extractor struct {
	logger *zap.Logger

	prevLuma []byte
	prevHist [histBins]float64
	hasPrev  bool

	// 音频归一化：滚动噪声底与峰值参考，使静音≈0、高峰反应≈1
	noiseFloor float64
	peakRef    float64
	hasAudio   bool

	lastMotion float64
	lastAudio  float64

	mu   sync.RWMutex // 仅保护 buzz（由外部消费者实时写入）
	buzz float64

	dropped uint64
}

// NewExtractor 创建信号提取器
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{
		logger:  logger,
		peakRef: 0.1, // 避免首个音频块即除零
	}
}

// SetBuzz 写入外部 buzz 信号（已预归一化到 [0,1]）
func (e *Extractor) SetBuzz(v float64) {
	e.mu.Lock()
	e.buzz = clamp01(v)
	e.mu.Unlock()
}

// Buzz 当前 buzz 值
func (e *Extractor) Buzz() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buzz
}

// DroppedUnits 累计跳过的解码失败单元数
func (e *Extractor) DroppedUnits() uint64 {
	return e.dropped
}

// Process 消费一个单元，产出该时间戳上的一条 Sample
// 解码失败的单元被跳过（ok=false），流不中断
func (e *Extractor) Process(u Unit) (models.Sample, bool) {
	if u.Err != nil {
		e.dropped++
		e.logger.Warn("Skipping undecodable unit",
			zap.Float64("timestamp", u.Timestamp),
			zap.Uint64("dropped_total", e.dropped),
			zap.Error(u.Err),
		)
		return models.Sample{}, false
	}

	if len(u.Luma) > 0 && u.Width > 0 && u.Height > 0 {
		e.lastMotion = e.motionScore(u.Luma, u.Width, u.Height)
	}
	if len(u.PCM) > 0 {
		e.lastAudio = e.audioScore(u.PCM)
	}

	return models.Sample{
		Timestamp: u.Timestamp,
		Motion:    e.lastMotion,
		AudioRMS:  e.lastAudio,
		Buzz:      e.Buzz(),
	}, true
}

// motionScore 归一化运动评分：帧差 + 直方图变化 + 边缘能量的加权和
func (e *Extractor) motionScore(luma []byte, w, h int) float64 {
	hist := lumaHistogram(luma)

	var frameDiff, sceneChange float64
	if e.hasPrev && len(e.prevLuma) == len(luma) {
		frameDiff = frameDiffScore(e.prevLuma, luma)
		sceneChange = 1.0 - histCorrelation(e.prevHist, hist)
		if sceneChange < 0 {
			sceneChange = 0
		}
	}
	edge := edgeEnergyScore(luma, w, h)

	e.prevLuma = append(e.prevLuma[:0], luma...)
	e.prevHist = hist
	e.hasPrev = true

	return clamp01(wFrameDiff*frameDiff + wSceneChange*sceneChange + wEdgeEnergy*edge)
}

// frameDiffScore 变化像素占比，放大后截断到 [0,1]
func frameDiffScore(prev, cur []byte) float64 {
	changed := 0
	for i := range cur {
		d := int(cur[i]) - int(prev[i])
		if d < 0 {
			d = -d
		}
		if d > pixelDeltaThreshold {
			changed++
		}
	}
	return clamp01(float64(changed) / float64(len(cur)) * 10.0)
}

// lumaHistogram 归一化亮度直方图
func lumaHistogram(luma []byte) [histBins]float64 {
	var hist [histBins]float64
	for _, p := range luma {
		hist[int(p)*histBins/256]++
	}
	n := float64(len(luma))
	for i := range hist {
		hist[i] /= n
	}
	return hist
}

// histCorrelation 两个直方图的皮尔逊相关系数
func histCorrelation(a, b [histBins]float64) float64 {
	var meanA, meanB float64
	for i := 0; i < histBins; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= histBins
	meanB /= histBins

	var num, denA, denB float64
	for i := 0; i < histBins; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return 1.0
	}
	return num / math.Sqrt(denA*denB)
}

// edgeEnergyScore 水平梯度方差近似边缘能量，经验值归一化
func edgeEnergyScore(luma []byte, w, h int) float64 {
	if w < 2 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 0; y < h; y++ {
		row := y * w
		for x := 1; x < w; x++ {
			g := float64(luma[row+x]) - float64(luma[row+x-1])
			sum += g
			sumSq += g * g
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	return clamp01(variance / 1000.0)
}

// audioScore 对音频块求 RMS 并按滚动噪声底归一化
func (e *Extractor) audioScore(pcm []float64) float64 {
	var sumSq float64
	for _, s := range pcm {
		sumSq += s * s
	}
	rms := math.Sqrt(sumSq / float64(len(pcm)))

	if !e.hasAudio {
		e.noiseFloor = rms
		if rms > e.peakRef {
			e.peakRef = rms
		}
		e.hasAudio = true
		return 0
	}

	// 噪声底快速下行、缓慢上行；峰值参考快速上行、缓慢衰减
	if rms < e.noiseFloor {
		e.noiseFloor = rms
	} else {
		e.noiseFloor += (rms - e.noiseFloor) * floorRiseAlpha
	}
	if rms > e.peakRef {
		e.peakRef = rms
	} else {
		e.peakRef -= (e.peakRef - rms) * peakDecayAlpha
	}

	span := e.peakRef - e.noiseFloor
	if span <= 1e-9 {
		return 0
	}
	return clamp01((rms - e.noiseFloor) / span)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
