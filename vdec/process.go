// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/timestamp"
)

// preprocessInput 把输入交换槽中的码流转入数据记录。
// Share 模式直接借用框架缓冲，Copy 模式复制到编解码缓冲后立即归还框架缓冲。
// 返回 false 表示没有可提交的数据。
func (c *Component) preprocessInput(d *Data) bool {
	p := c.ports[omx.InputPortIndex]
	if p.mode.Is(ModeCopy) && (d.Planes[0].Addr == nil || d.Private == nil) {
		return false
	}

	slot := p.Slot(InputWay)
	if !slot.Valid {
		return false
	}

	switch {
	case p.mode.Is(ModeShare):
		if err := bufferToData(slot, d, 1); err != nil {
			return false
		}
		d.Planes[0].FD = c.alloc.FD(d.Planes[0].Addr)
		slot.Reset()
	case p.mode.Is(ModeCopy):
		hdr := slot.Header
		n := slot.RemainDataLen
		if d.AllocSize-d.DataLen < n {
			c.logger.Errorf("input data is larger than codec buffer: %d > %d", n, d.AllocSize-d.DataLen)
			c.inputBufferReturn(slot)
			c.ErrorEvent(omx.ErrorUndefined)
			return false
		}

		if n > 0 {
			src := hdr.Buffer
			start := slot.UsedDataLen
			if start > len(src) {
				start = len(src)
			}
			end := start + n
			if end > len(src) {
				end = len(src)
			}
			copy(d.Planes[0].Addr[d.DataLen:], src[start:end])
		}
		slot.DataLen -= n
		slot.RemainDataLen -= n
		slot.UsedDataLen += n
		d.DataLen += n
		d.RemainDataLen += n
		d.Timestamp = slot.Timestamp
		d.Flags = slot.Flags
		d.Header = hdr
		c.inputBufferReturn(slot)
	}

	if d.Flags&omx.BufferFlagEOS != 0 && d.DataLen != 0 {
		c.BehaviorEOS.Set(true)
	}

	c.checkMu.Lock()
	if c.check.needSet && d.Flags&omx.BufferFlagCodecConfig == 0 {
		c.check.needCheck = true
		c.check.ts = d.Timestamp
		c.check.flags = d.Flags &^ (omx.BufferFlagSyncFrame | omx.BufferFlagDataCorrupt)
		c.check.needSet = false
		c.ts.SetLatest(d.Timestamp)
		c.logger.Debugf("first frame timestamp after seeking %d us", d.Timestamp)
	}
	c.checkMu.Unlock()
	return true
}

// postprocessOutput 把解码后的图像交给输出交换槽并归还框架。
// seek 之后早于起始时间戳的图像被丢弃。
func (c *Component) postprocessOutput(d *Data) {
	p := c.ports[omx.OutputPortIndex]
	slot := p.Slot(OutputWay)

	if p.mode.Is(ModeShare) && d.Header != nil {
		dataToBuffer(d, slot)
		slot.Valid = true
	}
	if !slot.Valid {
		return
	}

	if c.checkStartTimestamp(d) {
		if p.mode.Is(ModeShare) {
			c.fillThisBufferAgain(slot.Header)
			slot.Reset()
		}
		return
	}

	switch {
	case p.mode.Is(ModeCopy):
		flushing := p.Flushing()
		n := d.RemainDataLen
		if n <= slot.AllocSize-slot.DataLen && !flushing {
			slot.DataLen += n
			slot.RemainDataLen += n
			slot.Flags = d.Flags
			slot.Timestamp = d.Timestamp

			if slot.RemainDataLen > 0 {
				if err := c.convertOutput(d, slot); err != nil {
					c.logger.Errorf("copy picture to output buffer failed: %v", err)
					c.ErrorEvent(omx.ErrorUndefined)
					return
				}
			}
			if slot.RemainDataLen > 0 || slot.Flags&omx.BufferFlagEOS != 0 || flushing {
				c.outputBufferReturn(slot)
			}
		} else if flushing {
			slot.DataLen = 0
			slot.RemainDataLen = 0
			slot.Flags = d.Flags
			slot.Timestamp = d.Timestamp
			c.outputBufferReturn(slot)
		} else {
			c.logger.Errorf("output buffer is too small: %d > %d", n, slot.AllocSize-slot.DataLen)
			c.ErrorEvent(omx.ErrorUndefined)
		}
	case p.mode.Is(ModeShare):
		if slot.RemainDataLen > 0 || slot.Flags&omx.BufferFlagEOS != 0 || p.Flushing() {
			c.outputBufferReturn(slot)
		} else {
			c.fillThisBufferAgain(slot.Header)
			slot.Reset()
		}
	}
}

// checkStartTimestamp 起始时间戳检查，返回 true 表示丢弃该图像
func (c *Component) checkStartTimestamp(d *Data) bool {
	c.checkMu.Lock()
	defer c.checkMu.Unlock()

	if c.check.needCheck && d.Flags&omx.BufferFlagEOS == 0 {
		masked := d.Flags &^ (omx.BufferFlagSyncFrame | omx.BufferFlagDataCorrupt)
		if (c.check.ts == d.Timestamp && c.check.flags == masked) || c.check.ts < d.Timestamp {
			c.check = startCheck{ts: timestamp.ResetValue}
			return false
		}
		c.logger.Debugf("drop frame before start timestamp: %d < %d", d.Timestamp, c.check.ts)
		return true
	}
	return c.check.needSet
}
