// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"sync"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/utils/sema"
)

// CodecQueue Copy 模式下空闲的编解码缓冲队列。
// 静止时信号量计数等于队列中的缓冲数；为唤醒而多投递的计数
// 由 Dequeue 返回 ErrorUndefined 抵消。
type CodecQueue struct {
	mu  sync.Mutex
	q   queue.Queue
	sem *sema.Semaphore
}

// NewCodecQueue 创建空队列
func NewCodecQueue() *CodecQueue {
	return &CodecQueue{sem: sema.New(0)}
}

// Enqueue 放入空闲缓冲
func (cq *CodecQueue) Enqueue(cb *CodecBuffer) error {
	if cb == nil {
		return omx.ErrorInsufficientResources
	}
	cq.mu.Lock()
	cq.q.Push(cb)
	cq.mu.Unlock()
	cq.sem.Post()
	return nil
}

// Dequeue 阻塞直到有空闲缓冲或被唤醒，被唤醒时返回 ErrorUndefined
func (cq *CodecQueue) Dequeue() (*CodecBuffer, error) {
	cq.sem.Wait()

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.q.Len() == 0 {
		return nil, omx.ErrorUndefined
	}
	v, ok := cq.q.Pop()
	if !ok {
		return nil, omx.ErrorUndefined
	}
	cb, _ := v.(*CodecBuffer)
	if cb == nil {
		return nil, omx.ErrorUndefined
	}
	return cb, nil
}

// Reset 清空队列并把信号量归零
func (cq *CodecQueue) Reset() {
	cq.mu.Lock()
	cq.q.Reset()
	cq.mu.Unlock()
	cq.sem.Reset()
}

// Wake 唤醒一个阻塞中的 Dequeue
func (cq *CodecQueue) Wake() { cq.sem.Post() }

// Value 信号量当前计数
func (cq *CodecQueue) Value() int { return cq.sem.Value() }

// Len 队列中的缓冲数
func (cq *CodecQueue) Len() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.q.Len()
}
