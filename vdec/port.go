// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"sync"
	"sync/atomic"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/utils/sema"
)

// Exception 端口的异常状态
type Exception int32

// 异常状态
const (
	ExceptionGeneral Exception = iota
	ExceptionNeedPortFlush
	ExceptionNeedPortDisable
	ExceptionInvalid
)

var exceptionNames = [...]string{"general", "need_port_flush", "need_port_disable", "invalid"}

func (e Exception) String() string {
	if e >= 0 && int(e) < len(exceptionNames) {
		return exceptionNames[e]
	}
	return "unknown"
}

// 交换槽的方向
const (
	InputWay  = 0
	OutputWay = 1
)

// 默认配置
const (
	DefaultFrameWidth  = 176
	DefaultFrameHeight = 144
	MaxFrameWidth      = 1920
	MaxFrameHeight     = 1080
	MaxInputBufferNum  = 2
	MaxOutputBufferNum = 4
	MaxBufferNum       = 32
	inputBufferSize    = DefaultFrameWidth * DefaultFrameHeight * 2
	outputBufferSize   = DefaultFrameWidth * DefaultFrameHeight * 3 / 2
)

// bufferEntry 端口上登记的框架缓冲
type bufferEntry struct {
	header    *omx.BufferHeader
	allocated bool // 由组件分配，释放时归还内存
	fd        int
	inOMX     bool // 缓冲当前由组件持有
}

// Port 组件的一个端口
type Port struct {
	index int
	mode  BufferMode

	mu      sync.RWMutex // 保护 def/newDef/crop/newCrop/formats
	def     omx.PortDefinition
	newDef  omx.PortDefinition
	crop    omx.Rect
	newCrop omx.Rect
	formats []omx.ColorFormat

	planes    int32
	state     int32 // omx.State，Idle 表示可以处理缓冲
	exception int32
	flushing  int32

	// 框架送入的缓冲
	bufferMu  sync.Mutex
	bufferQ   queue.Queue
	bufferSem *sema.Semaphore
	codecQ    *CodecQueue

	pauseEvent *sema.Event
	enableSem  [2]*sema.Semaphore // 端口使能时唤醒两个方向的工作协程
	loaded     *sema.Semaphore    // 缓冲全部登记
	unloaded   *sema.Semaphore    // 缓冲全部释放

	slots       [2]DataBuffer
	processData Data
	codecBufs   []*CodecBuffer // Copy 模式下的编解码缓冲

	entriesMu sync.Mutex
	entries   []bufferEntry
	assigned  int
	mark      omx.Mark
}

func newPort(index int, mode BufferMode) *Port {
	p := &Port{
		index:      index,
		mode:       mode,
		state:      int32(omx.StateLoaded),
		bufferSem:  sema.New(0),
		codecQ:     NewCodecQueue(),
		pauseEvent: sema.NewEvent(),
		enableSem:  [2]*sema.Semaphore{sema.New(0), sema.New(0)},
		loaded:     sema.New(0),
		unloaded:   sema.New(0),
		entries:    make([]bufferEntry, MaxBufferNum),
	}

	p.def = omx.PortDefinition{
		Enabled:     true,
		FrameWidth:  DefaultFrameWidth,
		FrameHeight: DefaultFrameHeight,
		Stride:      DefaultFrameWidth,
		SliceHeight: DefaultFrameHeight,
	}
	if index == omx.InputPortIndex {
		p.def.BufferCountActual = MaxInputBufferNum
		p.def.BufferCountMin = MaxInputBufferNum
		p.def.BufferSize = inputBufferSize
		p.def.ColorFormat = omx.ColorFormatUnused
		p.planes = 1
	} else {
		p.def.BufferCountActual = MaxOutputBufferNum
		p.def.BufferCountMin = MaxOutputBufferNum
		p.def.BufferSize = outputBufferSize
		p.def.ColorFormat = omx.ColorFormatYUV420Planar
		p.planes = 2
	}
	p.crop = omx.Rect{Width: DefaultFrameWidth, Height: DefaultFrameHeight}
	p.newDef = p.def
	p.newCrop = p.crop
	return p
}

// Index 端口索引
func (p *Port) Index() int { return p.index }

// Mode 缓冲方式
func (p *Port) Mode() BufferMode { return p.mode }

// Planes 每个缓冲的平面数
func (p *Port) Planes() int { return int(atomic.LoadInt32(&p.planes)) }

// SetPlanes 设置平面数
func (p *Port) SetPlanes(n int) { atomic.StoreInt32(&p.planes, int32(n)) }

// Definition 返回端口定义的副本
func (p *Port) Definition() omx.PortDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def
}

// UpdateDefinition 修改端口定义
func (p *Port) UpdateDefinition(f func(def *omx.PortDefinition)) {
	p.mu.Lock()
	f(&p.def)
	p.mu.Unlock()
}

// NewDefinition 等待生效的端口定义
func (p *Port) NewDefinition() omx.PortDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.newDef
}

// UpdateNewDefinition 修改等待生效的端口定义
func (p *Port) UpdateNewDefinition(f func(def *omx.PortDefinition)) {
	p.mu.Lock()
	f(&p.newDef)
	p.mu.Unlock()
}

// Crop 当前裁剪区域
func (p *Port) Crop() omx.Rect {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.crop
}

// SetCrop 设置裁剪区域
func (p *Port) SetCrop(r omx.Rect) {
	p.mu.Lock()
	p.crop = r
	p.mu.Unlock()
}

// NewCrop 等待生效的裁剪区域
func (p *Port) NewCrop() omx.Rect {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.newCrop
}

// SetNewCrop 设置等待生效的裁剪区域
func (p *Port) SetNewCrop(r omx.Rect) {
	p.mu.Lock()
	p.newCrop = r
	p.mu.Unlock()
}

// Formats 支持的输出格式
func (p *Port) Formats() []omx.ColorFormat {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]omx.ColorFormat(nil), p.formats...)
}

// Enabled 端口是否使能
func (p *Port) Enabled() bool { return p.Definition().Enabled }

// Populated 缓冲是否已全部登记
func (p *Port) Populated() bool { return p.Definition().Populated }

// State 端口状态
func (p *Port) State() omx.State { return omx.State(atomic.LoadInt32(&p.state)) }

func (p *Port) setState(s omx.State) { atomic.StoreInt32(&p.state, int32(s)) }

// Exception 异常状态
func (p *Port) Exception() Exception { return Exception(atomic.LoadInt32(&p.exception)) }

// SetException 设置异常状态
func (p *Port) SetException(e Exception) { atomic.StoreInt32(&p.exception, int32(e)) }

// Flushing 是否正在冲刷
func (p *Port) Flushing() bool { return atomic.LoadInt32(&p.flushing) != 0 }

func (p *Port) setFlushing(v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&p.flushing, i)
}

// CodecQueue Copy 模式下的编解码缓冲队列
func (p *Port) CodecQueue() *CodecQueue { return p.codecQ }

// Slot 交换槽，0 为输入方向，1 为输出方向
func (p *Port) Slot(way int) *DataBuffer { return &p.slots[way] }

// Headers 已登记的框架缓冲
func (p *Port) Headers() []*omx.BufferHeader {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	var hdrs []*omx.BufferHeader
	for _, e := range p.entries {
		if e.header != nil {
			hdrs = append(hdrs, e.header)
		}
	}
	return hdrs
}

// Assigned 已登记的缓冲数
func (p *Port) Assigned() int {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	return p.assigned
}

// setInOMX 修改缓冲的持有状态，返回状态是否发生变化
func (p *Port) setInOMX(hdr *omx.BufferHeader, v bool) bool {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	for i := range p.entries {
		if p.entries[i].header == hdr && hdr != nil {
			if p.entries[i].inOMX == v {
				return false
			}
			p.entries[i].inOMX = v
			return true
		}
	}
	return false
}

// inOMX 缓冲是否由组件持有
func (p *Port) inOMX(hdr *omx.BufferHeader) bool {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	for i := range p.entries {
		if p.entries[i].header == hdr && hdr != nil {
			return p.entries[i].inOMX
		}
	}
	return false
}

// Holds 缓冲是否仍由组件持有
func (p *Port) Holds(hdr *omx.BufferHeader) bool { return p.inOMX(hdr) }

// heldHeaders 组件持有的缓冲
func (p *Port) heldHeaders() []*omx.BufferHeader {
	p.entriesMu.Lock()
	defer p.entriesMu.Unlock()
	var hdrs []*omx.BufferHeader
	for _, e := range p.entries {
		if e.header != nil && e.inOMX {
			hdrs = append(hdrs, e.header)
		}
	}
	return hdrs
}

// pushBuffer 框架缓冲入队并投递信号量
func (p *Port) pushBuffer(hdr *omx.BufferHeader) {
	p.bufferMu.Lock()
	p.bufferQ.Push(hdr)
	p.bufferMu.Unlock()
	p.bufferSem.Post()
}

// popBuffer 取出框架缓冲，队列空时返回 nil
func (p *Port) popBuffer() *omx.BufferHeader {
	p.bufferMu.Lock()
	defer p.bufferMu.Unlock()
	v, ok := p.bufferQ.Pop()
	if !ok {
		return nil
	}
	hdr, _ := v.(*omx.BufferHeader)
	return hdr
}

func (p *Port) bufferLen() int {
	p.bufferMu.Lock()
	defer p.bufferMu.Unlock()
	return p.bufferQ.Len()
}

func (p *Port) resetBufferQ() {
	p.bufferMu.Lock()
	p.bufferQ.Reset()
	p.bufferMu.Unlock()
}

// PortInfo 端口快照
type PortInfo struct {
	Index      int                `json:"index"`
	Mode       string             `json:"mode"`
	State      string             `json:"state"`
	Exception  string             `json:"exception"`
	Flushing   bool               `json:"flushing"`
	Planes     int                `json:"planes"`
	Assigned   int                `json:"assigned"`
	Queued     int                `json:"queued"`
	Definition omx.PortDefinition `json:"definition"`
	Crop       omx.Rect           `json:"crop"`
}

// Info 返回端口快照
func (p *Port) Info() *PortInfo {
	return &PortInfo{
		Index:      p.index,
		Mode:       p.mode.String(),
		State:      p.State().String(),
		Exception:  p.Exception().String(),
		Flushing:   p.Flushing(),
		Planes:     p.Planes(),
		Assigned:   p.Assigned(),
		Queued:     p.bufferLen(),
		Definition: p.Definition(),
		Crop:       p.Crop(),
	}
}
