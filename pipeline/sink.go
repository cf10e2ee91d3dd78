// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"bufio"
	"os"
	"sync"

	"github.com/cnotch/vdec/omx"
)

// Picture 解码输出的一帧图像
type Picture struct {
	Data        []byte // 只在 WritePicture 调用期间有效
	Timestamp   int64  // 微秒
	Flags       uint32
	Width       int
	Height      int
	Stride      int
	SliceHeight int
	ColorFormat omx.ColorFormat
	Crop        omx.Rect
}

// Sink 图像的去处，WritePicture 返回后缓冲交还给解码组件
type Sink interface {
	WritePicture(p *Picture) error
	Close() error
}

type discard struct{}

func (discard) WritePicture(*Picture) error { return nil }
func (discard) Close() error                { return nil }

// Discard 丢弃全部图像，只做统计
var Discard Sink = discard{}

// FileSink 把图像依次写入原始 YUV 文件
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// CreateFileSink 创建或截断文件
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// WritePicture 写入一帧，空图像忽略
func (s *FileSink) WritePicture(p *Picture) error {
	if len(p.Data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p.Data)
	return err
}

// Close 刷新并关闭文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
