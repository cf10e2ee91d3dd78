// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"sync/atomic"
)

// 全局计数
var (
	Decoders   = new(Conns)   // 解码组件
	Sources    = new(Conns)   // 码流来源
	WsClients  = new(Conns)   // 事件订阅连接
	NetFlow    = NewFlow(nil) // 推流接入的网络流量
	DecodeFlow = NewFlow(nil) // 送入和输出解码组件的数据量
)

// ConnsSample 计数采样
type ConnsSample struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
	Peak   int64 `json:"peak"`
}

// Conns 对象计数，零值可用
type Conns struct {
	total  int64
	active int64
	peak   int64
}

// Add 增加一个活动对象，返回当前活动数
func (c *Conns) Add() int64 {
	atomic.AddInt64(&c.total, 1)
	active := atomic.AddInt64(&c.active, 1)
	for {
		peak := atomic.LoadInt64(&c.peak)
		if active <= peak || atomic.CompareAndSwapInt64(&c.peak, peak, active) {
			return active
		}
	}
}

// Release 释放一个活动对象
func (c *Conns) Release() int64 {
	return atomic.AddInt64(&c.active, -1)
}

// GetSample 当前时点采样
func (c *Conns) GetSample() ConnsSample {
	return ConnsSample{
		Total:  atomic.LoadInt64(&c.total),
		Active: atomic.LoadInt64(&c.active),
		Peak:   atomic.LoadInt64(&c.peak),
	}
}
