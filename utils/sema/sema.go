// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sema 提供可读取计数的信号量和手动复位的事件。
package sema

import (
	"sync"
	"time"
)

// Semaphore 计数信号量。
// Post 时如有等待者，许可直接移交给最早的等待者，计数不变。
type Semaphore struct {
	mu      sync.Mutex
	value   int
	waiters []chan struct{}
}

// New 创建初始计数为 n 的信号量
func New(n int) *Semaphore {
	if n < 0 {
		n = 0
	}
	return &Semaphore{value: n}
}

// Wait 获取一个许可，没有许可时阻塞
func (s *Semaphore) Wait() {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	<-ch
}

// WaitTimeout 在 d 时间内获取一个许可，超时返回 false
func (s *Semaphore) WaitTimeout(d time.Duration) bool {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return false
		}
	}
	// 超时的同时已被移交
	return true
}

// TryWait 非阻塞获取许可
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Post 释放一个许可
func (s *Semaphore) Post() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ch)
	} else {
		s.value++
	}
	s.mu.Unlock()
}

// Value 当前可用的许可数
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Waiters 阻塞中的等待者数量
func (s *Semaphore) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Reset 将可用许可清零，不影响等待者
func (s *Semaphore) Reset() {
	s.mu.Lock()
	s.value = 0
	s.mu.Unlock()
}

// Event 手动复位的事件，Set 之后所有等待者返回，直到 Reset
type Event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewEvent 创建未触发的事件
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set 触发事件
func (e *Event) Set() {
	e.mu.Lock()
	if !e.set {
		close(e.ch)
		e.set = true
	}
	e.mu.Unlock()
}

// Reset 复位事件
func (e *Event) Reset() {
	e.mu.Lock()
	if e.set {
		e.ch = make(chan struct{})
		e.set = false
	}
	e.mu.Unlock()
}

// IsSet 事件是否已触发
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait 等待事件触发
func (e *Event) Wait() {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	<-ch
}

// WaitTimeout 在 d 时间内等待事件触发，超时返回 false
func (e *Event) WaitTimeout(d time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
