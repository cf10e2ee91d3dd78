// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"sync/atomic"
)

// FrameSample 帧计数采样
type FrameSample struct {
	In      int64 `json:"in"`      // 送入的码流缓冲
	Out     int64 `json:"out"`     // 输出的图像
	Dropped int64 `json:"dropped"` // 丢弃的图像
	Errors  int64 `json:"errors"`  // 错误事件
}

// Frames 帧统计接口
type Frames interface {
	AddIn()
	AddOut()
	AddDrop()
	AddError()
	GetSample() FrameSample
}

func (fs *FrameSample) clone() FrameSample {
	return FrameSample{
		In:      atomic.LoadInt64(&fs.In),
		Out:     atomic.LoadInt64(&fs.Out),
		Dropped: atomic.LoadInt64(&fs.Dropped),
		Errors:  atomic.LoadInt64(&fs.Errors),
	}
}

// Add 采样累加
func (fs *FrameSample) Add(f FrameSample) {
	fs.In += f.In
	fs.Out += f.Out
	fs.Dropped += f.Dropped
	fs.Errors += f.Errors
}

type frames struct {
	sample FrameSample
}

// NewFrames 创建帧统计
func NewFrames() Frames {
	return &frames{}
}

func (f *frames) AddIn()    { atomic.AddInt64(&f.sample.In, 1) }
func (f *frames) AddOut()   { atomic.AddInt64(&f.sample.Out, 1) }
func (f *frames) AddDrop()  { atomic.AddInt64(&f.sample.Dropped, 1) }
func (f *frames) AddError() { atomic.AddInt64(&f.sample.Errors, 1) }

func (f *frames) GetSample() FrameSample {
	return f.sample.clone()
}
