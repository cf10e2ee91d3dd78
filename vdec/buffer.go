// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"github.com/cnotch/vdec/omx"
)

// fakeHeader 用于唤醒等待框架缓冲的工作协程
var fakeHeader = &omx.BufferHeader{}

// UseBuffer 登记框架提供的缓冲
func (c *Component) UseBuffer(port int, appPrivate interface{}, buf []byte) (*omx.BufferHeader, error) {
	return c.registerBuffer(port, appPrivate, buf, false, -1)
}

// AllocateBuffer 由组件分配共享内存并登记
func (c *Component) AllocateBuffer(port int, appPrivate interface{}, size int) (*omx.BufferHeader, error) {
	if port < 0 || port >= omx.PortNum {
		return nil, omx.ErrorBadParameter
	}
	if c.ports[port].State() != omx.StateIdle {
		return nil, omx.ErrorIncorrectStateOperation
	}

	block, err := c.alloc.Alloc(size)
	if err != nil {
		c.logger.Errorf("allocate %d bytes failed: %v", size, err)
		return nil, omx.ErrorInsufficientResources
	}

	hdr, err := c.registerBuffer(port, appPrivate, block.Data, true, block.FD)
	if err != nil {
		c.alloc.Free(block.Data)
		return nil, err
	}
	return hdr, nil
}

func (c *Component) registerBuffer(port int, appPrivate interface{}, buf []byte, allocated bool, fd int) (*omx.BufferHeader, error) {
	if port < 0 || port >= omx.PortNum {
		return nil, omx.ErrorBadParameter
	}
	p := c.ports[port]
	if p.State() != omx.StateIdle {
		return nil, omx.ErrorIncorrectStateOperation
	}

	def := p.Definition()

	p.entriesMu.Lock()
	var hdr *omx.BufferHeader
	for i := 0; i < def.BufferCountActual && i < len(p.entries); i++ {
		if p.entries[i].header != nil {
			continue
		}

		hdr = &omx.BufferHeader{
			Buffer:          buf,
			AllocLen:        uint32(len(buf)),
			AppPrivate:      appPrivate,
			InputPortIndex:  omx.InputPortIndex,
			OutputPortIndex: omx.OutputPortIndex,
		}
		p.entries[i] = bufferEntry{header: hdr, allocated: allocated, fd: fd}
		p.assigned++
		break
	}
	assigned := p.assigned
	p.entriesMu.Unlock()

	if hdr == nil {
		return nil, omx.ErrorInsufficientResources
	}

	if assigned == def.BufferCountActual {
		p.UpdateDefinition(func(def *omx.PortDefinition) { def.Populated = true })
		p.loaded.Post()
	}
	return hdr, nil
}

// FreeBuffer 注销并释放缓冲
func (c *Component) FreeBuffer(port int, hdr *omx.BufferHeader) error {
	if port < 0 || port >= omx.PortNum || hdr == nil {
		return omx.ErrorBadParameter
	}
	p := c.ports[port]

	if s := p.State(); s != omx.StateLoaded && s != omx.StateInvalid && p.Enabled() {
		c.Event(omx.EventError, uint32(omx.ErrorPortUnpopulated), uint32(port), nil)
		return omx.ErrorInvalidState
	}

	p.entriesMu.Lock()
	found := false
	for i := range p.entries {
		e := &p.entries[i]
		if e.header == nil || e.header != hdr {
			continue
		}
		if e.allocated {
			c.alloc.Free(hdr.Buffer)
			hdr.Buffer = nil
		}
		p.assigned--
		*e = bufferEntry{}
		found = true
		break
	}
	assigned := p.assigned
	p.entriesMu.Unlock()

	if !found {
		return omx.ErrorBadParameter
	}

	if assigned == 0 {
		p.unloaded.Post()
		p.UpdateDefinition(func(def *omx.PortDefinition) { def.Populated = false })
	}
	return nil
}

func (c *Component) checkBufferCommand(port int, hdr *omx.BufferHeader) error {
	if hdr == nil {
		return omx.ErrorBadParameter
	}
	if s := c.State(); s != omx.StateIdle && s != omx.StateExecuting && s != omx.StatePause {
		return omx.ErrorIncorrectStateOperation
	}
	p := c.ports[port]
	if !p.Enabled() || p.Flushing() {
		return omx.ErrorIncorrectStateOperation
	}
	return nil
}

// EmptyThisBuffer 框架送入码流缓冲
func (c *Component) EmptyThisBuffer(hdr *omx.BufferHeader) error {
	if err := c.checkBufferCommand(omx.InputPortIndex, hdr); err != nil {
		return err
	}
	p := c.ports[omx.InputPortIndex]
	if !p.setInOMX(hdr, true) {
		c.logger.Warnf("EmptyThisBuffer failed: unknown or already entered buffer")
		return omx.ErrorBadParameter
	}

	c.flow.AddIn(int64(hdr.FilledLen))
	c.frames.AddIn()
	p.pushBuffer(hdr)
	return nil
}

// FillThisBuffer 框架送入空的图像缓冲
func (c *Component) FillThisBuffer(hdr *omx.BufferHeader) error {
	if err := c.checkBufferCommand(omx.OutputPortIndex, hdr); err != nil {
		return err
	}
	p := c.ports[omx.OutputPortIndex]
	if !p.setInOMX(hdr, true) {
		c.logger.Warnf("FillThisBuffer failed: unknown or already entered buffer")
		return omx.ErrorBadParameter
	}
	p.pushBuffer(hdr)
	return nil
}

// fillThisBufferAgain 组件内部把仍然持有的图像缓冲重新放回队列
func (c *Component) fillThisBufferAgain(hdr *omx.BufferHeader) error {
	if err := c.checkBufferCommand(omx.OutputPortIndex, hdr); err != nil {
		return err
	}
	p := c.ports[omx.OutputPortIndex]
	if !p.inOMX(hdr) {
		c.logger.Warnf("FillThisBufferAgain failed: buffer is not held by component")
		return omx.ErrorBadParameter
	}
	c.frames.AddDrop()
	p.pushBuffer(hdr)
	return nil
}

// EmptyBufferDone 码流缓冲归还框架
func (c *Component) EmptyBufferDone(hdr *omx.BufferHeader) {
	if !c.ports[omx.InputPortIndex].setInOMX(hdr, false) {
		return
	}
	if hdr.Buffer != nil {
		c.cb.EmptyBufferDone(c, hdr)
	}
}

// FillBufferDone 图像缓冲归还框架
func (c *Component) FillBufferDone(hdr *omx.BufferHeader) {
	if !c.ports[omx.OutputPortIndex].setInOMX(hdr, false) {
		return
	}
	if hdr.Buffer != nil {
		c.flow.AddOut(int64(hdr.FilledLen))
		if hdr.FilledLen > 0 {
			c.frames.AddOut()
		}
		c.cb.FillBufferDone(c, hdr)
	}
}

// inputBufferReturn 归还交换槽中的码流缓冲，处理标记
func (c *Component) inputBufferReturn(slot *DataBuffer) {
	p := c.ports[omx.InputPortIndex]
	if hdr := slot.Header; hdr != nil {
		c.markMu.Lock()
		if p.mark.Target != nil {
			hdr.MarkTarget = p.mark.Target
			hdr.MarkData = p.mark.Data
			p.mark = omx.Mark{}
		}
		if hdr.MarkTarget != nil {
			if hdr.MarkTarget == c {
				c.markMu.Unlock()
				c.Event(omx.EventMark, 0, 0, hdr.MarkData)
				c.markMu.Lock()
			} else {
				c.propagateMark = omx.Mark{Target: hdr.MarkTarget, Data: hdr.MarkData}
			}
		}
		c.markMu.Unlock()

		hdr.FilledLen = 0
		hdr.Offset = 0
		c.EmptyBufferDone(hdr)
	}
	slot.Reset()
}

// outputBufferReturn 归还交换槽中的图像缓冲
func (c *Component) outputBufferReturn(slot *DataBuffer) {
	if hdr := slot.Header; hdr != nil {
		hdr.FilledLen = uint32(slot.RemainDataLen)
		hdr.Offset = 0
		hdr.Flags = slot.Flags
		hdr.Timestamp = slot.Timestamp
		c.ReturnOutputBuffer(hdr)
	}
	slot.Reset()
}

// ReturnOutputBuffer 传递标记、上报 EOS 后把图像缓冲还给框架
func (c *Component) ReturnOutputBuffer(hdr *omx.BufferHeader) {
	if hdr == nil {
		return
	}

	c.markMu.Lock()
	if c.propagateMark.Target != nil {
		hdr.MarkTarget = c.propagateMark.Target
		hdr.MarkData = c.propagateMark.Data
		c.propagateMark = omx.Mark{}
	}
	c.markMu.Unlock()

	if hdr.Flags&omx.BufferFlagEOS != 0 {
		c.Event(omx.EventBufferFlag, omx.OutputPortIndex, hdr.Flags, nil)
	}
	c.logger.Debugf("output buffer returned: ts = %d, flags = %s, len = %d",
		hdr.Timestamp, omx.FlagsString(hdr.Flags), hdr.FilledLen)
	c.FillBufferDone(hdr)
}

// inputBufferGetQueue 从框架队列取出码流缓冲放入输入交换槽
func (c *Component) inputBufferGetQueue() error {
	p := c.ports[omx.InputPortIndex]
	if c.State() != omx.StateExecuting {
		return omx.ErrorUndefined
	}

	force := c.ForceHeaderParsing.Get()
	if (c.TransState() == omx.TransStateExecutingToIdle || p.Flushing()) && !force {
		return omx.ErrorUndefined
	}

	if !force {
		p.bufferSem.Wait()
	}

	slot := p.Slot(InputWay)
	if !slot.Valid {
		hdr := p.popBuffer()
		if hdr == nil {
			return omx.ErrorUndefined
		}
		if hdr == fakeHeader {
			return omx.ErrorCodecFlush
		}

		slot.Header = hdr
		slot.AllocSize = int(hdr.AllocLen)
		slot.DataLen = int(hdr.FilledLen)
		slot.RemainDataLen = slot.DataLen
		slot.UsedDataLen = 0
		slot.Valid = true
		slot.Flags = hdr.Flags
		slot.Timestamp = hdr.Timestamp

		if slot.AllocSize < slot.DataLen {
			c.logger.Warnf("data size is larger than buffer size: %d > %d", slot.DataLen, slot.AllocSize)
		}
	}
	return nil
}

// outputBufferGetQueue 从框架队列取出图像缓冲；
// Copy 模式放入输出方向的交换槽，Share 模式放入输入方向的交换槽
func (c *Component) outputBufferGetQueue() error {
	p := c.ports[omx.OutputPortIndex]

	var slot *DataBuffer
	switch {
	case p.mode.Is(ModeCopy):
		slot = p.Slot(OutputWay)
	case p.mode.Is(ModeShare):
		slot = p.Slot(InputWay)
	default:
		return omx.ErrorUndefined
	}

	if c.State() != omx.StateExecuting {
		return omx.ErrorUndefined
	}
	if c.TransState() == omx.TransStateExecutingToIdle || p.Flushing() {
		return omx.ErrorUndefined
	}

	p.bufferSem.Wait()
	if !slot.Valid {
		hdr := p.popBuffer()
		if hdr == nil {
			return omx.ErrorUndefined
		}
		if hdr == fakeHeader {
			return omx.ErrorCodecFlush
		}

		slot.Header = hdr
		slot.AllocSize = int(hdr.AllocLen)
		slot.DataLen = 0
		slot.RemainDataLen = 0
		slot.UsedDataLen = 0
		slot.Valid = true
	}
	return nil
}

// OutputBufferGetQueueDirect 直接取出一个图像缓冲，没有时返回 nil
func (c *Component) OutputBufferGetQueueDirect() *omx.BufferHeader {
	p := c.ports[omx.OutputPortIndex]
	if c.State() != omx.StateExecuting {
		return nil
	}
	if c.TransState() == omx.TransStateExecutingToIdle || p.Flushing() {
		return nil
	}

	p.bufferSem.Wait()
	hdr := p.popBuffer()
	if hdr == nil || hdr == fakeHeader {
		return nil
	}
	return hdr
}

// wakeUp 投递一个假缓冲，唤醒等待框架缓冲的工作协程
func (c *Component) wakeUp(port int) {
	c.ports[port].pushBuffer(fakeHeader)
}
