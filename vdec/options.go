// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"time"

	"github.com/cnotch/vdec/memory"
	"github.com/cnotch/xlog"
)

// DefaultPauseMaxWait 暂停的工作协程两次检查退出标志之间的最长等待时间
const DefaultPauseMaxWait = time.Second

type options struct {
	reorderMode  bool
	dtsMode      bool
	thumbnail    bool
	custom       bool
	discardCSD   bool
	displayDelay int
	inputMode    BufferMode
	outputMode   BufferMode
	pauseMaxWait time.Duration
	allocator    *memory.Allocator
	logger       *xlog.Logger
}

func defaultOptions() options {
	return options{
		displayDelay: -1,
		inputMode:    ModeShare,
		outputMode:   ModeCopy,
		pauseMaxWait: DefaultPauseMaxWait,
	}
}

// Option 配置 Component 的选项接口
type Option interface {
	apply(*options)
}

// optionFunc 包装函数以便它满足 Option 接口
type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// ReorderMode 时间戳完全按显示顺序重排，不依赖硬件回传的标签
func ReorderMode(on bool) Option {
	return optionFunc(func(o *options) {
		o.reorderMode = on
	})
}

// DTSMode 输入时间戳为解码时间戳
func DTSMode(on bool) Option {
	return optionFunc(func(o *options) {
		o.dtsMode = on
	})
}

// Thumbnail 缩略图模式，只解码 I 帧且不处理分辨率变化
func Thumbnail(on bool) Option {
	return optionFunc(func(o *options) {
		o.thumbnail = on
	})
}

// Custom 定制组件，冲刷输入端口前先解析配置数据
func Custom(on bool) Option {
	return optionFunc(func(o *options) {
		o.custom = on
	})
}

// DiscardCorruptedHeader 配置数据损坏时不上报错误
func DiscardCorruptedHeader(on bool) Option {
	return optionFunc(func(o *options) {
		o.discardCSD = on
	})
}

// DisplayDelay 硬件的显示延迟，负数表示使用默认值
func DisplayDelay(n int) Option {
	return optionFunc(func(o *options) {
		o.displayDelay = n
	})
}

// InputMode 输入端口的缓冲方式
func InputMode(m BufferMode) Option {
	return optionFunc(func(o *options) {
		o.inputMode = m
	})
}

// OutputMode 输出端口的缓冲方式
func OutputMode(m BufferMode) Option {
	return optionFunc(func(o *options) {
		o.outputMode = m
	})
}

// PauseMaxWait 暂停等待的上限
func PauseMaxWait(d time.Duration) Option {
	return optionFunc(func(o *options) {
		if d > 0 {
			o.pauseMaxWait = d
		}
	})
}

// Allocator 共享内存分配器
func Allocator(a *memory.Allocator) Option {
	return optionFunc(func(o *options) {
		o.allocator = a
	})
}

// Logger 日志对象
func Logger(l *xlog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
