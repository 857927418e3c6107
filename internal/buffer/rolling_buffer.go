package buffer

import (
	"errors"
	"fmt"
	"sync"

	"vibecheck-moments/internal/models"
)

// ErrRangeEvicted 请求范围的起点早于缓冲区当前保留窗口
var ErrRangeEvicted = errors.New("requested range has been evicted from buffer")

// ErrNonMonotonic 写入时间戳未严格递增（单写入者契约被破坏，属致命错误）
var ErrNonMonotonic = errors.New("sample timestamp is not monotonically increasing")

// 每个时间桶覆盖的媒体秒数
const bucketSpanS = 5.0

type entry struct {
	sample models.Sample
	frame  *models.FrameRef
}

// chunk 一个时间桶的条目存储
// 槽位由写入者一次性写入后即不可变；桶整体被淘汰后不回收复用，
// 持有引用的读取者可继续安全访问，由 GC 统一回收
type chunk struct {
	entries []entry // 定长 chunkSize，[0, n) 为已发布槽位
	n       int     // 仅写入者在持锁时更新
}

// RollingBuffer 按时间桶组织的追加式缓冲区
// 保存最近 retention 秒的 Sample 和 FrameRef，支持回溯切片
//
// 并发模型：单写入者（采集循环）+ 多并发读取者（检测器/生命周期管理器/装配器）
// 锁只覆盖边界簿记：写入者持锁发布槽位并推进淘汰边界，读取者持锁拍下
// 有效范围快照（桶指针 + 起止下标），随后在锁外完成整段拷贝。
// 已发布槽位永不改写，桶永不复用，因此快照读不存在撕裂，切片拷贝也不会
// 阻塞写入者
type RollingBuffer struct {
	mu        sync.Mutex
	retention float64
	chunkSize int
	chunks    []*chunk // 最旧在前，末位为当前写入桶
	start     int      // chunks[0] 中首个有效槽位
	count     int      // 有效条目总数
	latest    float64
	hasData   bool
	evicted   uint64 // 累计淘汰条数
}

// snapshot 某一时刻有效范围的不可变视图，可在锁外任意遍历
type snapshot struct {
	chunks    []*chunk
	chunkSize int
	start     int // chunks[0] 中首个有效槽位
	count     int
	oldest    float64
	newest    float64
}

// NewRollingBuffer 创建缓冲区
// retentionSeconds 必须覆盖最坏情况的 pre-roll + 反应窗口 + post-roll
// rateHz 为采样节拍频率，用于推算桶容量
func NewRollingBuffer(retentionSeconds, rateHz float64) (*RollingBuffer, error) {
	if retentionSeconds <= 0 || rateHz <= 0 {
		return nil, fmt.Errorf("invalid buffer parameters: retention=%f rate=%f", retentionSeconds, rateHz)
	}
	chunkSize := int(bucketSpanS * rateHz)
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &RollingBuffer{
		retention: retentionSeconds,
		chunkSize: chunkSize,
	}, nil
}

// Append 追加一条样本及其可选的帧引用
// 均摊 O(1)；淘汰在每次追加时执行（最旧优先，单调推进）
func (b *RollingBuffer) Append(sample models.Sample, frame *models.FrameRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasData && sample.Timestamp <= b.latest {
		return fmt.Errorf("%w: %f <= %f", ErrNonMonotonic, sample.Timestamp, b.latest)
	}

	// 时间淘汰：将保留边界推过早于 now-R 的条目
	cutoff := sample.Timestamp - b.retention
	for b.count > 0 && b.chunks[0].entries[b.start].sample.Timestamp < cutoff {
		b.start++
		b.count--
		b.evicted++
		if b.start == b.chunks[0].n && len(b.chunks) > 1 {
			b.chunks = b.chunks[1:]
			b.start = 0
		}
	}
	if b.count == 0 && len(b.chunks) > 0 && b.start == b.chunks[len(b.chunks)-1].n {
		// 全部淘汰且末位桶已写满，整体重置
		b.chunks = nil
		b.start = 0
	}

	tail := b.tailChunk()
	tail.entries[tail.n] = entry{sample: sample, frame: frame}
	tail.n++
	b.count++
	b.latest = sample.Timestamp
	b.hasData = true
	return nil
}

// tailChunk 返回当前写入桶，写满则开新桶（调用方需持锁）
func (b *RollingBuffer) tailChunk() *chunk {
	if len(b.chunks) == 0 || b.chunks[len(b.chunks)-1].n == b.chunkSize {
		b.chunks = append(b.chunks, &chunk{entries: make([]entry, b.chunkSize)})
	}
	return b.chunks[len(b.chunks)-1]
}

// snap 持锁拍下当前有效范围的快照
func (b *RollingBuffer) snap() (snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return snapshot{}, false
	}
	return snapshot{
		chunks:    append([]*chunk(nil), b.chunks...),
		chunkSize: b.chunkSize,
		start:     b.start,
		count:     b.count,
		oldest:    b.chunks[0].entries[b.start].sample.Timestamp,
		newest:    b.latest,
	}, true
}

// at 逻辑下标转条目引用
func (s *snapshot) at(i int) *entry {
	i += s.start
	return &s.chunks[i/s.chunkSize].entries[i%s.chunkSize]
}

// lowerBound 第一个时间戳 >= t 的逻辑下标
func (s *snapshot) lowerBound(t float64) int {
	lo, hi := 0, s.count
	for lo < hi {
		mid := (lo + hi) / 2
		if s.at(mid).sample.Timestamp < t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Window 当前保留窗口 [oldest, newest]；空缓冲区时 ok=false
func (b *RollingBuffer) Window() (oldest, newest float64, ok bool) {
	s, ok := b.snap()
	if !ok {
		return 0, 0, false
	}
	return s.oldest, s.newest, true
}

// Len 当前保留的条目数
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// EvictedCount 累计淘汰的条目数
func (b *RollingBuffer) EvictedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// SliceSignals 返回 [startS, endS) 内的全部样本（时间戳升序）
// 范围起点早于保留窗口时返回 ErrRangeEvicted
// 拷贝在快照上进行，不持锁，不阻塞写入者
func (b *RollingBuffer) SliceSignals(startS, endS float64) ([]models.Sample, error) {
	s, ok := b.snap()
	if err := checkRange(s, ok, startS); err != nil {
		return nil, err
	}

	out := make([]models.Sample, 0, 16)
	for i := s.lowerBound(startS); i < s.count; i++ {
		e := s.at(i)
		if e.sample.Timestamp >= endS {
			break
		}
		out = append(out, e.sample)
	}
	return out, nil
}

// SliceFrames 返回 [startS, endS) 内的全部帧引用（时间戳升序）
// 只拷贝引用；FrameRef 自身不可变，可在锁外安全使用
func (b *RollingBuffer) SliceFrames(startS, endS float64) ([]*models.FrameRef, error) {
	s, ok := b.snap()
	if err := checkRange(s, ok, startS); err != nil {
		return nil, err
	}

	out := make([]*models.FrameRef, 0, 16)
	for i := s.lowerBound(startS); i < s.count; i++ {
		e := s.at(i)
		if e.sample.Timestamp >= endS {
			break
		}
		if e.frame != nil {
			out = append(out, e.frame)
		}
	}
	return out, nil
}

// checkRange 校验范围起点仍在快照窗口内
func checkRange(s snapshot, ok bool, startS float64) error {
	if !ok {
		return fmt.Errorf("%w: buffer is empty", ErrRangeEvicted)
	}
	if startS < s.oldest {
		return fmt.Errorf("%w: start=%.3f oldest=%.3f", ErrRangeEvicted, startS, s.oldest)
	}
	return nil
}
