// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package h264 实现 H.264 解码组件的编码格式相关操作，
// 把 vdec 的四个工作协程接到硬件解码引擎的输入、输出队列上。
package h264

import (
	"sync"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/utils/sema"
	"github.com/cnotch/vdec/vdec"
	"github.com/cnotch/xlog"
)

// ComponentName 组件名称
const ComponentName = "OMX.Exynos.AVC.Decoder"

const (
	// ExtraDPBNum 参考帧之外额外需要的输出缓冲
	ExtraDPBNum = 5
	// maxDisplayDelay 有效的显示延迟上限
	maxDisplayDelay = 8
)

// Opener 打开一个解码引擎实例
type Opener func() (device.Decoder, error)

// bypassInfo 没有交给引擎的 EOS 缓冲，直接转给输出端口
type bypassInfo struct {
	flags     uint32
	timestamp int64
}

// Codec H.264 解码操作
type Codec struct {
	open   Opener
	c      *vdec.Component
	dev    device.Decoder
	info   device.Info
	logger *xlog.Logger

	srcConfigured vdec.Flag // 已解析序列头
	dstConfigured vdec.Flag // 输出队列已配置
	srcStarted    vdec.Flag
	dstStarted    vdec.Flag
	srcStartEvent *sema.Event
	dstStartEvent *sema.Event

	mu      sync.Mutex
	outConf device.Geometry
	maxDPB  int

	bypassMu sync.Mutex
	bypass   queue.Queue
}

var _ vdec.Codec = (*Codec)(nil)

// New 创建 H.264 解码操作
func New(open Opener) *Codec {
	return &Codec{
		open:          open,
		logger:        xlog.L(),
		srcStartEvent: sema.NewEvent(),
		dstStartEvent: sema.NewEvent(),
	}
}

// NewComponent 创建 H.264 解码组件
func NewComponent(open Opener, cb vdec.Callbacks, opts ...vdec.Option) *vdec.Component {
	return vdec.New(ComponentName, New(open), cb, opts...)
}

// Name 编码格式
func (h *Codec) Name() string { return "h264" }

// Init 打开引擎，Copy 模式下分配输入编解码缓冲
func (h *Codec) Init(c *vdec.Component) error {
	h.c = c
	h.logger = c.Logger().With(xlog.Fields(xlog.F("codec", "h264")))
	h.srcConfigured.Set(false)
	h.dstConfigured.Set(false)
	h.srcStarted.Set(false)
	h.dstStarted.Set(false)
	c.SaveEOS.Set(false)
	c.BehaviorEOS.Set(false)

	dev, err := h.open()
	if err != nil {
		h.logger.Errorf("open decoder failed: %v", err)
		return omx.ErrorInsufficientResources
	}
	h.dev = dev
	h.info = dev.Info()

	in := c.Port(omx.InputPortIndex)
	in.SetPlanes(1)
	if in.Mode().Is(vdec.ModeCopy) {
		in.CodecQueue().Reset()
		if err := c.AllocateCodecBuffers(omx.InputPortIndex, vdec.CodecInputBufferNum,
			[]int{vdec.CodecInputBufferSize}); err != nil {
			dev.Finalize()
			h.dev = nil
			return err
		}
		for _, cb := range c.CodecBuffers(omx.InputPortIndex) {
			in.CodecQueue().Enqueue(cb)
		}
	}
	c.Port(omx.OutputPortIndex).SetPlanes(2)

	h.srcStartEvent.Reset()
	h.dstStartEvent.Reset()
	c.Timestamps().Reset()
	c.SetSupportFormat()
	h.logger.Infof("decoder %s opened, last frame = %v, dynamic dpb = %v",
		h.info.Name, h.info.LastFrameSupport, h.info.DynamicDPB)
	return nil
}

// Terminate 关闭引擎并恢复端口配置
func (h *Codec) Terminate() error {
	c := h.c
	if c == nil {
		return nil
	}

	h.bypassMu.Lock()
	h.bypass.Reset()
	h.bypassMu.Unlock()
	h.srcStarted.Set(false)
	h.dstStarted.Set(false)
	h.srcConfigured.Set(false)
	h.dstConfigured.Set(false)

	for _, port := range []int{omx.OutputPortIndex, omx.InputPortIndex} {
		p := c.Port(port)
		if p.Mode().Is(vdec.ModeCopy) {
			c.FreeCodecBuffers(port)
			p.CodecQueue().Reset()
		}
	}

	if h.dev != nil {
		h.dev.Finalize()
		h.dev = nil
		h.logger.Info("decoder closed")
	}

	h.mu.Lock()
	h.outConf = device.Geometry{}
	h.maxDPB = 0
	h.mu.Unlock()
	c.ResetAllPortConfig()
	return nil
}

func (h *Codec) ops(port int) device.BufferOps {
	if h.dev == nil {
		return nil
	}
	if port == omx.InputPortIndex {
		return h.dev.Input()
	}
	return h.dev.Output()
}

// Start 启动端口对应的引擎队列
func (h *Codec) Start(port int) {
	ops := h.ops(port)
	if ops == nil {
		return
	}
	if err := ops.Run(); err != nil {
		h.logger.Warnf("run queue of port %d failed: %v", port, err)
	}
}

// Stop 停止端口对应的引擎队列
func (h *Codec) Stop(port int) {
	ops := h.ops(port)
	if ops == nil {
		return
	}
	if err := ops.Stop(); err != nil {
		h.logger.Warnf("stop queue of port %d failed: %v", port, err)
	}
	if port == omx.OutputPortIndex && h.info.DynamicDPB &&
		h.c.Port(omx.OutputPortIndex).Mode().Is(vdec.ModeShare) {
		ops.ClearRegistered()
	}
}

// BufferProcessRun 唤醒等待引擎启动的工作协程
func (h *Codec) BufferProcessRun(port int) {
	if port == omx.InputPortIndex {
		if !h.srcStarted.Get() {
			h.srcStartEvent.Set()
		}
		return
	}
	if !h.dstStarted.Get() {
		h.dstStartEvent.Set()
	}
}

// EnqueueAllBuffer Copy 模式下把编解码缓冲全部放回空闲队列，并丢弃引擎中未处理的缓冲
func (h *Codec) EnqueueAllBuffer(port int) {
	c := h.c
	p := c.Port(port)
	if !p.Mode().Is(vdec.ModeCopy) {
		return
	}

	q := p.CodecQueue()
	q.Reset()
	bufs := c.CodecBuffers(port)
	if port == omx.InputPortIndex {
		for _, cb := range bufs {
			cb.DataSize = 0
			q.Enqueue(cb)
		}
	} else {
		h.mu.Lock()
		n := h.maxDPB
		h.mu.Unlock()
		for i, cb := range bufs {
			if i >= n {
				break
			}
			q.Enqueue(cb)
		}
	}

	if ops := h.ops(port); ops != nil {
		ops.ClearQueue()
	}
}

// ReconfigAllBuffers 分辨率改变后重建输出缓冲
func (h *Codec) ReconfigAllBuffers(port int) error {
	c := h.c
	if h.dev == nil {
		return omx.ErrorBadParameter
	}

	switch {
	case port == omx.InputPortIndex && h.srcStarted.Get():
		return omx.ErrorNotImplemented
	case port == omx.OutputPortIndex && h.dstStarted.Get():
		out := c.Port(omx.OutputPortIndex)
		ops := h.dev.Output()
		if out.Mode().Is(vdec.ModeCopy) {
			c.FreeCodecBuffers(port)
			out.CodecQueue().Reset()
			ops.ClearRegistered()
			ops.Cleanup()
			if err := h.dstSetup(); err != nil {
				return err
			}
			c.ReconfigDPB.Set(false)
		} else if out.Mode().Is(vdec.ModeShare) {
			ops.ClearRegistered()
			ops.Cleanup()
		}
		return c.ResolutionUpdate()
	}
	return omx.ErrorBadParameter
}

// CheckFormatSupport 引擎是否直接输出该格式
func (h *Codec) CheckFormatSupport(f omx.ColorFormat) bool {
	if h.dev == nil {
		return false
	}
	return h.dev.CheckFormat(f)
}

func (h *Codec) pushBypass(flags uint32, ts int64) {
	h.bypassMu.Lock()
	h.bypass.Push(&bypassInfo{flags: flags, timestamp: ts})
	h.bypassMu.Unlock()
}

func (h *Codec) bypassLen() int {
	h.bypassMu.Lock()
	defer h.bypassMu.Unlock()
	return h.bypass.Len()
}

func (h *Codec) popBypass() (*bypassInfo, bool) {
	h.bypassMu.Lock()
	defer h.bypassMu.Unlock()
	v, ok := h.bypass.Pop()
	if !ok {
		return nil, false
	}
	info, ok := v.(*bypassInfo)
	return info, ok
}

// returnBypass 用没有交给引擎的 EOS 信息直接归还一个图像缓冲
func (h *Codec) returnBypass(hdr *omx.BufferHeader) bool {
	info, ok := h.popBypass()
	if !ok {
		return false
	}
	hdr.FilledLen = 0
	hdr.Offset = 0
	hdr.Flags = info.flags
	hdr.Timestamp = info.timestamp
	h.logger.Debugf("bypass output buffer: ts = %d, flags = %s", info.timestamp, omx.FlagsString(info.flags))
	h.c.ReturnOutputBuffer(hdr)
	return true
}

// returnInput 归还不需要引擎处理的码流缓冲
func (h *Codec) returnInput(d *vdec.Data) {
	in := h.c.Port(omx.InputPortIndex)
	if in.Mode().Is(vdec.ModeCopy) {
		if cb := d.CodecBuffer(); cb != nil {
			cb.DataSize = 0
			in.CodecQueue().Enqueue(cb)
		}
		d.Private = nil
		return
	}
	if d.Header != nil {
		h.c.EmptyBufferDone(d.Header)
	}
}
