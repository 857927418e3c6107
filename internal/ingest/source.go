package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"vibecheck-moments/internal/extract"
)

// Source 解码单元来源
// Next 按媒体时间单调递增返回；流结束返回 io.EOF
type Source interface {
	Next(ctx context.Context) (extract.Unit, error)
	Close() error
}

// unitRecord JSON-lines 文件中的一条解码单元
type unitRecord struct {
	Timestamp float64   `json:"timestamp"`
	Luma      []byte    `json:"luma,omitempty"` // base64 灰度平面
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	PCM       []float64 `json:"pcm,omitempty"`
	Corrupt   bool      `json:"corrupt,omitempty"` // 标记解码失败的单元
}

// FileSource 从 JSON-lines 文件读取预解码单元
// realtime 模式下按单元时间差节拍回放，模拟直播摄取
type FileSource struct {
	file     *os.File
	scanner  *bufio.Scanner
	realtime bool
	lastTS   float64
	started  bool
}

// NewFileSource 打开单元文件
func NewFileSource(path string, realtime bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open unit file: %w", err)
	}

	scanner := bufio.NewScanner(f)
	// 帧数据行可能很大
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &FileSource{
		file:     f,
		scanner:  scanner,
		realtime: realtime,
	}, nil
}

// Next 读取下一条解码单元
func (s *FileSource) Next(ctx context.Context) (extract.Unit, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec unitRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// 坏行作为解码失败单元交给提取器计数
			return extract.Unit{Err: fmt.Errorf("malformed unit record: %w", err)}, nil
		}

		if s.realtime && s.started {
			delta := rec.Timestamp - s.lastTS
			if delta > 0 {
				select {
				case <-ctx.Done():
					return extract.Unit{}, ctx.Err()
				case <-time.After(time.Duration(delta * float64(time.Second))):
				}
			}
		}
		s.started = true
		s.lastTS = rec.Timestamp

		u := extract.Unit{
			Timestamp: rec.Timestamp,
			Luma:      rec.Luma,
			Width:     rec.Width,
			Height:    rec.Height,
			PCM:       rec.PCM,
		}
		if rec.Corrupt {
			u.Err = fmt.Errorf("unit marked corrupt at %.3fs", rec.Timestamp)
		}
		return u, nil
	}

	if err := s.scanner.Err(); err != nil {
		return extract.Unit{}, fmt.Errorf("failed to read unit file: %w", err)
	}
	return extract.Unit{}, io.EOF
}

// Close 关闭底层文件
func (s *FileSource) Close() error {
	return s.file.Close()
}
