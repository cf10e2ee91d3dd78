// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memory 模拟硬件共享内存(ION)的分配与句柄解析。
// 每块内存有一个可以跨组件传递的句柄(fd)，零拷贝模式下通过
// 缓冲区首地址反查句柄。
package memory

import (
	"errors"
	"sync"
)

// 错误定义
var (
	// ErrNoSpace 超过分配器容量
	ErrNoSpace = errors.New("memory: insufficient space")
	// ErrBadSize 非法的分配尺寸
	ErrBadSize = errors.New("memory: bad size")
)

const firstFD = 100

// Block 一块共享内存
type Block struct {
	FD   int
	Data []byte
}

// Allocator 共享内存分配器，并发安全
type Allocator struct {
	mu       sync.Mutex
	capacity int // <=0 表示不限制
	used     int
	nextFD   int
	blocks   map[*byte]*Block
	fds      map[int]*Block
}

// NewAllocator 创建容量为 capacity 字节的分配器
func NewAllocator(capacity int) *Allocator {
	return &Allocator{
		capacity: capacity,
		nextFD:   firstFD,
		blocks:   make(map[*byte]*Block),
		fds:      make(map[int]*Block),
	}
}

// Alloc 分配 size 字节
func (a *Allocator) Alloc(size int) (*Block, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capacity > 0 && a.used+size > a.capacity {
		return nil, ErrNoSpace
	}

	b := &Block{FD: a.nextFD, Data: make([]byte, size)}
	a.nextFD++
	a.used += size
	a.blocks[&b.Data[0]] = b
	a.fds[b.FD] = b
	return b, nil
}

// Free 释放 buf 所在的内存块，buf 必须是块的首地址
func (a *Allocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := &buf[0]
	if b, ok := a.blocks[key]; ok {
		delete(a.blocks, key)
		delete(a.fds, b.FD)
		a.used -= len(b.Data)
	}
}

// Lookup 通过首地址查找内存块
func (a *Allocator) Lookup(buf []byte) (*Block, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[&buf[0]]
	return b, ok
}

// FD 返回 buf 对应的句柄，未知返回 -1
func (a *Allocator) FD(buf []byte) int {
	if b, ok := a.Lookup(buf); ok {
		return b.FD
	}
	return -1
}

// ByFD 通过句柄查找内存块
func (a *Allocator) ByFD(fd int) (*Block, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.fds[fd]
	return b, ok
}

// Used 已分配的字节数
func (a *Allocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Count 已分配的块数
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}
