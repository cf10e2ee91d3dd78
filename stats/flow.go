// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"sync/atomic"
	"time"
)

// FlowSample 字节流量采样
type FlowSample struct {
	InBytes  int64 `json:"inbytes"`
	OutBytes int64 `json:"outbytes"`
}

// Add 采样累加
func (fs *FlowSample) Add(f FlowSample) {
	fs.InBytes += f.InBytes
	fs.OutBytes += f.OutBytes
}

// Rate 相对于 d 之前的采样 prev，每秒的字节数
func (fs FlowSample) Rate(prev FlowSample, d time.Duration) FlowSample {
	secs := d.Seconds()
	if secs <= 0 {
		return FlowSample{}
	}
	return FlowSample{
		InBytes:  int64(float64(fs.InBytes-prev.InBytes) / secs),
		OutBytes: int64(float64(fs.OutBytes-prev.OutBytes) / secs),
	}
}

// Flow 流量计数，计数同时累加到上级
type Flow struct {
	// 32 位平台上 64 位原子操作要求 8 字节对齐，计数放在最前
	in     int64
	out    int64
	parent *Flow
}

// NewFlow 创建流量计数，parent 可以为 nil
func NewFlow(parent *Flow) *Flow {
	return &Flow{parent: parent}
}

// AddIn 增加输入
func (f *Flow) AddIn(size int64) {
	for p := f; p != nil; p = p.parent {
		atomic.AddInt64(&p.in, size)
	}
}

// AddOut 增加输出
func (f *Flow) AddOut(size int64) {
	for p := f; p != nil; p = p.parent {
		atomic.AddInt64(&p.out, size)
	}
}

// GetSample 当前时点采样
func (f *Flow) GetSample() FlowSample {
	return FlowSample{
		InBytes:  atomic.LoadInt64(&f.in),
		OutBytes: atomic.LoadInt64(&f.out),
	}
}
