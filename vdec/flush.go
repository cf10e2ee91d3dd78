// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"github.com/cnotch/vdec/omx"
)

// returnHeader 把框架缓冲直接还给框架
func (c *Component) returnHeader(port int, hdr *omx.BufferHeader) {
	if port == omx.InputPortIndex {
		c.EmptyBufferDone(hdr)
	} else {
		c.FillBufferDone(hdr)
	}
}

// discardInput 丢弃当前的码流数据
func (c *Component) discardInput(d *Data) {
	p := c.ports[omx.InputPortIndex]
	if p.mode.Is(ModeCopy) {
		if cb := d.CodecBuffer(); cb != nil {
			p.codecQ.Enqueue(cb)
		}
	}
	if p.mode.Is(ModeShare) && d.Header != nil {
		c.EmptyBufferDone(d.Header)
	}
}

// flushPort 归还端口上排队、交换槽中以及组件持有的全部框架缓冲
func (c *Component) flushPort(port int) {
	p := c.ports[port]

	for p.bufferLen() > 0 {
		if p.bufferSem.Value() == 0 {
			p.bufferSem.Post()
		}
		p.bufferSem.Wait()
		hdr := p.popBuffer()
		if hdr != nil && hdr != fakeHeader {
			hdr.FilledLen = 0
			c.returnHeader(port, hdr)
		}
	}

	for way := range p.slots {
		slot := &p.slots[way]
		if !slot.Valid {
			continue
		}
		if port == omx.InputPortIndex {
			c.inputBufferReturn(slot)
		} else {
			c.outputBufferReturn(slot)
		}
	}

	if p.mode.Is(ModeShare) {
		if hdr := p.processData.Header; hdr != nil {
			c.returnHeader(port, hdr)
		}
		p.processData.Reset()
		// 仍由硬件持有的缓冲
		for _, hdr := range p.heldHeaders() {
			c.returnHeader(port, hdr)
		}
	}

	p.bufferSem.Reset()
	p.resetBufferQ()
}

// BufferFlush 冲刷端口：唤醒并挡住两个方向的工作协程，停止硬件队列，
// 归还所有缓冲后重新把编解码缓冲交给硬件。event 为 true 时发送命令完成事件。
func (c *Component) BufferFlush(port int, event bool) error {
	if port < 0 || port >= omx.PortNum {
		return omx.ErrorBadParameter
	}
	p := c.ports[port]

	p.setFlushing(true)
	c.notify()
	p.pauseEvent.Set()

	if p.mode.Is(ModeCopy) {
		p.codecQ.Wake()
	}
	if p.bufferSem.Value() == 0 {
		p.bufferSem.Post()
	}
	c.codec.BufferProcessRun(port)

	in, out := p.Slot(InputWay), p.Slot(OutputWay)
	in.Lock()
	c.codec.Stop(port)
	out.Lock()

	if c.Custom() && port == omx.InputPortIndex {
		// 冲刷前先解析排队中的配置数据
		c.forceHeaderParsing(in, &p.processData)
	}

	c.flushPort(port)

	var err error
	if c.ReconfigDPB.Get() {
		err = c.codec.ReconfigAllBuffers(port)
	} else if p.mode.Is(ModeCopy) {
		c.codec.EnqueueAllBuffer(port)
	}

	p.processData.Reset()
	if err == nil {
		if port == omx.InputPortIndex {
			c.resetStartCheck(true)
			c.ts.Clear()
			c.SaveEOS.Set(false)
			c.BehaviorEOS.Set(false)
			c.ReInputData.Set(false)
		}

		p.setFlushing(false)
		c.notify()
		if event {
			c.Event(omx.EventCmdComplete, uint32(omx.CommandFlush), uint32(port), nil)
		}
	}
	out.Unlock()
	in.Unlock()

	if err != nil {
		c.logger.Errorf("flush port %d failed: %v", port, err)
		c.ErrorEvent(err)
		return err
	}
	c.logger.Debugf("port %d flushed", port)
	return nil
}

// forceHeaderParsing 在冲刷输入端口之前提交排队中的配置数据(CODECCONFIG)，
// 避免定制组件在 seek 之后丢失序列头
func (c *Component) forceHeaderParsing(slot *DataBuffer, d *Data) error {
	p := c.ports[omx.InputPortIndex]
	c.ForceHeaderParsing.Set(true)
	defer c.ForceHeaderParsing.Set(false)

	n := p.bufferLen()
	submitted := false
	var err error

loop:
	for {
		if slot.Valid {
			if slot.Flags&omx.BufferFlagCodecConfig == 0 {
				// 没有配置数据标志，视为配置数据已经全部解析
				break
			}
			c.logger.Debugf("force header parsing: %d buffer(s) queued", n)

			if p.mode.Is(ModeCopy) && d.Planes[0].Addr == nil {
				cb, e := p.codecQ.Dequeue()
				if e != nil {
					err = omx.ErrorUndefined
					break
				}
				codecBufferToData(cb, d, omx.InputPortIndex)
			}

			if c.preprocessInput(d) {
				err = c.codec.SrcInputProcess(d)
				switch omx.Code(err) {
				case omx.ErrorNone:
					submitted = true
				case omx.ErrorCorruptedFrame, omx.ErrorCorruptedHeader, omx.ErrorInputDataDecodeYet:
					c.discardInput(d)
				case omx.ErrorNeedNextHeaderInfo, omx.ErrorNoneSrcSetupFinish:
				default:
					c.logger.Errorf("force header parsing failed: %v", err)
					break loop
				}
			} else {
				c.discardInput(d)
			}
			slot.Reset()
			d.Reset()
		}

		if n <= 0 {
			break
		}
		n--
		if err = c.inputBufferGetQueue(); err != nil {
			break
		}
	}

	c.codec.Stop(omx.InputPortIndex)
	if submitted {
		if e := c.codec.CheckResolutionChange(); e != nil {
			c.logger.Errorf("check resolution change failed: %v", e)
			c.Event(omx.EventError, uint32(omx.Code(e)), 0, nil)
			err = e
		}
	}
	return err
}
