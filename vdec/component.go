// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vdec 实现硬件视频解码器的缓冲流水线。
//
// 组件有两个端口：输入端口接收码流缓冲，输出端口回送解码后的图像。
// 四个工作协程分别负责码流入队(SrcInput)、码流缓冲回收(SrcOutput)、
// 图像缓冲入队(DstInput)和图像出队(DstOutput)，与具体编码格式相关的
// 操作由 Codec 完成。
package vdec

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/memory"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/stats"
	"github.com/cnotch/vdec/timestamp"
	"github.com/cnotch/xlog"
	"golang.org/x/sync/errgroup"
)

// ErrNoPicture 编解码器暂时没有可以输出的数据，工作协程跳过后处理
var ErrNoPicture = errors.New("vdec: no picture available")

// Codec 编码格式相关的操作
type Codec interface {
	Name() string
	// Init 在 Loaded->Idle 时调用
	Init(c *Component) error
	// Terminate 在 Idle->Loaded 时调用
	Terminate() error

	SrcInputProcess(d *Data) error
	SrcOutputProcess(d *Data) error
	DstInputProcess(d *Data) error
	DstOutputProcess(d *Data) error

	Start(port int)
	Stop(port int)
	// BufferProcessRun 唤醒等待硬件启动的工作协程
	BufferProcessRun(port int)
	// EnqueueAllBuffer Copy 模式下把全部编解码缓冲重新交给硬件
	EnqueueAllBuffer(port int)
	ReconfigAllBuffers(port int) error
	CheckResolutionChange() error
	CheckFormatSupport(f omx.ColorFormat) bool
}

// Callbacks 组件向框架的回调
type Callbacks interface {
	EventHandler(c *Component, event omx.EventType, data1, data2 uint32, eventData interface{})
	EmptyBufferDone(c *Component, hdr *omx.BufferHeader)
	FillBufferDone(c *Component, hdr *omx.BufferHeader)
}

// CallbackFuncs 用函数实现 Callbacks，未设置的回调被忽略
type CallbackFuncs struct {
	OnEvent     func(c *Component, event omx.EventType, data1, data2 uint32, eventData interface{})
	OnEmptyDone func(c *Component, hdr *omx.BufferHeader)
	OnFillDone  func(c *Component, hdr *omx.BufferHeader)
}

// EventHandler 实现 Callbacks
func (f CallbackFuncs) EventHandler(c *Component, event omx.EventType, data1, data2 uint32, eventData interface{}) {
	if f.OnEvent != nil {
		f.OnEvent(c, event, data1, data2, eventData)
	}
}

// EmptyBufferDone 实现 Callbacks
func (f CallbackFuncs) EmptyBufferDone(c *Component, hdr *omx.BufferHeader) {
	if f.OnEmptyDone != nil {
		f.OnEmptyDone(c, hdr)
	}
}

// FillBufferDone 实现 Callbacks
func (f CallbackFuncs) FillBufferDone(c *Component, hdr *omx.BufferHeader) {
	if f.OnFillDone != nil {
		f.OnFillDone(c, hdr)
	}
}

// Flag 并发安全的布尔标志
type Flag struct {
	v int32
}

// Get 读取
func (f *Flag) Get() bool { return atomic.LoadInt32(&f.v) != 0 }

// Set 设置
func (f *Flag) Set(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&f.v, v)
}

// startCheck seek/冲刷之后的起始时间戳检查
type startCheck struct {
	needSet   bool
	needCheck bool
	ts        int64
	flags     uint32
}

// Component 解码组件
type Component struct {
	name   string
	codec  Codec
	cb     Callbacks
	opts   options
	logger *xlog.Logger
	alloc  *memory.Allocator
	ports  [omx.PortNum]*Port
	ts     *timestamp.Table

	state  int32 // omx.State
	trans  int32 // omx.TransState
	exit   Flag
	closed Flag

	// 编解码器与框架共享的状态
	BehaviorEOS        Flag // 带数据的 EOS 缓冲，数据需要解码
	SaveEOS            Flag // EOS 推迟到下一个非 B 帧
	ReconfigDPB        Flag // 输出缓冲需要重新配置
	ForceHeaderParsing Flag
	ReInputData        Flag

	checkMu sync.Mutex
	check   startCheck

	markMu        sync.Mutex
	propagateMark omx.Mark

	chMu    sync.Mutex
	changed chan struct{} // 状态改变时关闭并替换

	g       *errgroup.Group
	workers [workerNum]chan struct{} // 工作协程退出时关闭
	cmdQ    *queue.SyncQueue
	cmdWG   sync.WaitGroup
	cmdMu   sync.Mutex // 串行执行命令
	flow    *stats.Flow
	frames  stats.Frames
	start   time.Time
}

// New 创建处于 Loaded 状态的解码组件
func New(name string, codec Codec, cb Callbacks, opts ...Option) *Component {
	c := &Component{
		name:  name,
		codec: codec,
		cb:    cb,
		opts:  defaultOptions(),
		state: int32(omx.StateLoaded),
		cmdQ:  queue.NewSyncQueue(),
		start: time.Now(),

		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o.apply(&c.opts)
	}
	if c.cb == nil {
		c.cb = CallbackFuncs{}
	}

	c.logger = c.opts.logger
	if c.logger == nil {
		c.logger = xlog.L().With(xlog.Fields(xlog.F("decoder", name)))
	}
	c.alloc = c.opts.allocator
	if c.alloc == nil {
		c.alloc = memory.NewAllocator(0)
	}

	c.ports[omx.InputPortIndex] = newPort(omx.InputPortIndex, c.opts.inputMode)
	c.ports[omx.OutputPortIndex] = newPort(omx.OutputPortIndex, c.opts.outputMode)
	c.ts = timestamp.NewTable(c.logger)
	c.ts.SetLatest(timestamp.DefaultValue)
	c.flow = stats.NewFlow(stats.DecodeFlow)
	c.frames = stats.NewFrames()
	c.SetSupportFormat()

	c.cmdWG.Add(1)
	go c.processCommands()
	stats.Decoders.Add()
	return c
}

// Name 组件名称
func (c *Component) Name() string { return c.name }

// Codec 编码格式操作
func (c *Component) Codec() Codec { return c.codec }

// Port 返回端口
func (c *Component) Port(index int) *Port { return c.ports[index] }

// Timestamps 时间戳表
func (c *Component) Timestamps() *timestamp.Table { return c.ts }

// Allocator 共享内存分配器
func (c *Component) Allocator() *memory.Allocator { return c.alloc }

// Logger 日志对象
func (c *Component) Logger() *xlog.Logger { return c.logger }

// ReorderMode 是否使用完全重排序的时间戳
func (c *Component) ReorderMode() bool { return c.opts.reorderMode }

// DTSMode 输入时间戳是否为解码时间戳
func (c *Component) DTSMode() bool { return c.opts.dtsMode }

// Thumbnail 是否为缩略图模式
func (c *Component) Thumbnail() bool { return c.opts.thumbnail }

// Custom 是否为定制组件
func (c *Component) Custom() bool { return c.opts.custom }

// DiscardCorruptedHeader 是否忽略配置数据的损坏错误
func (c *Component) DiscardCorruptedHeader() bool { return c.opts.discardCSD }

// DisplayDelay 显示延迟，负数表示未设置
func (c *Component) DisplayDelay() int { return c.opts.displayDelay }

// PauseMaxWait 暂停等待的上限
func (c *Component) PauseMaxWait() time.Duration { return c.opts.pauseMaxWait }

// State 组件状态
func (c *Component) State() omx.State { return omx.State(atomic.LoadInt32(&c.state)) }

func (c *Component) setState(s omx.State) {
	atomic.StoreInt32(&c.state, int32(s))
	c.notify()
}

// TransState 过渡状态
func (c *Component) TransState() omx.TransState {
	return omx.TransState(atomic.LoadInt32(&c.trans))
}

func (c *Component) setTransState(s omx.TransState) {
	atomic.StoreInt32(&c.trans, int32(s))
	c.notify()
}

// changes 返回当前的状态改变通知；须在检查状态之前取得
func (c *Component) changes() <-chan struct{} {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.changed
}

// notify 唤醒所有等待状态改变的工作协程
func (c *Component) notify() {
	c.chMu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.chMu.Unlock()
}

// waitChange 等待状态改变，最长等待 PauseMaxWait
func (c *Component) waitChange(ch <-chan struct{}) {
	t := time.NewTimer(c.opts.pauseMaxWait)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	}
}

// Exiting 工作协程是否需要退出
func (c *Component) Exiting() bool { return c.exit.Get() }

// NeedCheckStartTimestamp 是否在检查起始时间戳
func (c *Component) NeedCheckStartTimestamp() bool {
	c.checkMu.Lock()
	defer c.checkMu.Unlock()
	return c.check.needCheck
}

// NeedSetStartTimestamp 是否在等待起始时间戳
func (c *Component) NeedSetStartTimestamp() bool {
	c.checkMu.Lock()
	defer c.checkMu.Unlock()
	return c.check.needSet
}

func (c *Component) resetStartCheck(needSet bool) {
	c.checkMu.Lock()
	c.check = startCheck{needSet: needSet, ts: timestamp.ResetValue}
	c.checkMu.Unlock()
}

// CheckBufferProcessState 端口是否可以处理缓冲
func (c *Component) CheckBufferProcessState(port int) bool {
	trans := c.TransState()
	return c.State() == omx.StateExecuting &&
		c.ports[port].State() == omx.StateIdle &&
		trans != omx.TransStateExecutingToIdle &&
		trans != omx.TransStateIdleToExecuting
}

// Event 向框架发送事件
func (c *Component) Event(event omx.EventType, data1, data2 uint32, eventData interface{}) {
	c.cb.EventHandler(c, event, data1, data2, eventData)
}

// ErrorEvent 向框架报告错误
func (c *Component) ErrorEvent(err error) {
	code := omx.Code(err)
	c.frames.AddError()
	c.logger.Errorf("error event: %v", code)
	c.Event(omx.EventError, uint32(code), 0, nil)
}

// PortSettingsChanged 通知框架端口配置改变
func (c *Component) PortSettingsChanged(port int, index uint32) {
	c.Event(omx.EventPortSettingsChanged, uint32(port), index, nil)
}

// Info 组件快照
type Info struct {
	Name       string            `json:"name"`
	Codec      string            `json:"codec"`
	State      string            `json:"state"`
	Uptime     int64             `json:"uptime"`
	Ports      []*PortInfo       `json:"ports"`
	Flow       stats.FlowSample  `json:"flow"`
	Frames     stats.FrameSample `json:"frames"`
	Timestamps int               `json:"timestamps_inuse"`
}

// Info 返回组件快照
func (c *Component) Info() *Info {
	info := &Info{
		Name:       c.name,
		Codec:      c.codec.Name(),
		State:      c.State().String(),
		Uptime:     int64(time.Since(c.start).Seconds()),
		Flow:       c.flow.GetSample(),
		Frames:     c.frames.GetSample(),
		Timestamps: c.ts.InUse(),
	}
	for _, p := range c.ports {
		info.Ports = append(info.Ports, p.Info())
	}
	return info
}
