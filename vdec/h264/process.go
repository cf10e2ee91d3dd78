// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/timestamp"
	"github.com/cnotch/vdec/vdec"
)

// checkStartCode 码流是否以起始码开始，流结束单元(NAL 类型 11)不提交
func checkStartCode(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	switch {
	case b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] != 0 && b[3]>>3 == 0:
		return len(b) > 4 && b[4]&0x1f != 0xb
	case b[0] == 0 && b[1] == 0 && b[2] != 0 && b[2]>>3 == 0:
		return b[3]&0x1f != 0xb
	}
	return false
}

// SrcInputProcess 把码流提交给引擎
func (h *Codec) SrcInputProcess(d *vdec.Data) error {
	c := h.c
	in := c.Port(omx.InputPortIndex)
	if h.dev == nil || !in.Enabled() || !in.Populated() ||
		!c.CheckBufferProcessState(omx.InputPortIndex) {
		h.returnInput(d)
		return nil
	}

	err := h.srcIn(d)
	if err == nil {
		return nil
	}
	switch omx.Code(err) {
	case omx.ErrorInputDataDecodeYet, omx.ErrorCorruptedFrame:
	case omx.ErrorCorruptedHeader:
		if !c.DiscardCorruptedHeader() {
			c.ErrorEvent(err)
		}
	default:
		c.ErrorEvent(err)
	}
	return err
}

func (h *Codec) srcIn(d *vdec.Data) error {
	c := h.c
	if !h.srcConfigured.Get() {
		return h.srcSetup(d)
	}
	if !h.dstConfigured.Get() && !c.ForceHeaderParsing.Get() {
		if err := h.dstSetup(); err != nil {
			return err
		}
	}

	data := d.Planes[0].Addr
	if d.DataLen <= len(data) {
		data = data[:d.DataLen]
	}
	if !checkStartCode(data) && d.Flags&omx.BufferFlagEOS == 0 {
		h.logger.Warnf("input data without start code: len = %d", d.DataLen)
		return omx.ErrorCorruptedFrame
	}

	ts := c.Timestamps()
	var tag int
	if c.ReorderMode() {
		tag = ts.SetReorder(d.Timestamp, d.Flags)
	} else {
		tag = ts.Put(d.Timestamp, d.Flags)
	}
	if err := h.dev.SetFrameTag(tag); err != nil {
		h.logger.Warnf("set frame tag %d failed: %v", tag, err)
	}
	h.logger.Debugf("input ts = %d, tag = %d, flags = %s, len = %d",
		d.Timestamp, tag, omx.FlagsString(d.Flags), d.DataLen)

	var private interface{} = d.Header
	if c.Port(omx.InputPortIndex).Mode().Is(vdec.ModeCopy) {
		private = d.CodecBuffer()
	}
	if err := h.dev.Input().Enqueue([]device.Plane{inputPlane(d)}, private); err != nil {
		h.logger.Errorf("enqueue input buffer failed: %v", err)
		return omx.ErrorCodecDecode
	}
	if d.Flags&omx.BufferFlagEOS != 0 && d.DataLen > 0 {
		// 带数据的 EOS 之后再提交一个空缓冲，让引擎输出剩余的图像
		h.dev.SetFrameTag(timestamp.IndexAfterEOS)
		if err := h.dev.Input().Enqueue([]device.Plane{{FD: -1}}, nil); err != nil {
			h.logger.Warnf("enqueue drain buffer failed: %v", err)
		}
	}
	h.Start(omx.InputPortIndex)

	if !h.srcStarted.Get() {
		h.srcStarted.Set(true)
		h.srcStartEvent.Set()
	}
	if !h.dstStarted.Get() && h.dstConfigured.Get() {
		h.dstStarted.Set(true)
		h.dstStartEvent.Set()
	}
	return nil
}

// SrcOutputProcess 取回引擎处理完的码流缓冲
func (h *Codec) SrcOutputProcess(d *vdec.Data) error {
	c := h.c
	in := c.Port(omx.InputPortIndex)
	if h.dev == nil || !in.Enabled() || !in.Populated() {
		return omx.ErrorUndefined
	}
	if in.Mode().Is(vdec.ModeCopy) && !c.CheckBufferProcessState(omx.InputPortIndex) {
		return omx.ErrorUndefined
	}

	if !h.srcStarted.Get() && !in.Flushing() {
		h.srcStartEvent.WaitTimeout(c.PauseMaxWait())
		if c.Exiting() {
			return vdec.ErrNoPicture
		}
		h.srcStartEvent.Reset()
	}

	err := h.srcOut(d)
	if err != nil && err != vdec.ErrNoPicture && c.State() == omx.StateExecuting {
		c.ErrorEvent(err)
	}
	return err
}

func (h *Codec) srcOut(d *vdec.Data) error {
	ops := h.dev.Input()
	if !ops.Poll(h.c.PauseMaxWait()) {
		return vdec.ErrNoPicture
	}
	buf, err := ops.Dequeue()
	if err == device.ErrEIO {
		h.logger.Error("input queue is not available")
		return omx.ErrorHardware
	}
	if err != nil || buf == nil || buf.Private == nil {
		// 只为解析序列头提交的缓冲没有私有数据
		return vdec.ErrNoPicture
	}

	d.Planes[0].Addr = buf.Planes[0].Addr
	d.Planes[0].FD = buf.Planes[0].FD
	d.AllocSize = buf.Planes[0].AllocSize
	d.DataLen = 0
	d.RemainDataLen = 0
	d.UsedDataLen = 0

	if h.c.Port(omx.InputPortIndex).Mode().Is(vdec.ModeCopy) {
		cb, ok := buf.Private.(*vdec.CodecBuffer)
		if !ok {
			h.logger.Error("input codec buffer not found")
			return omx.ErrorCodecDecode
		}
		cb.DataSize = 0
		d.Private = cb
		return nil
	}
	d.Header, _ = buf.Private.(*omx.BufferHeader)
	d.Private = nil
	return nil
}

// DstInputProcess 把空的图像缓冲交给引擎
func (h *Codec) DstInputProcess(d *vdec.Data) error {
	c := h.c
	out := c.Port(omx.OutputPortIndex)
	if h.dev == nil || !out.Enabled() || !out.Populated() {
		return nil
	}
	if !c.CheckBufferProcessState(omx.OutputPortIndex) {
		if c.State() == omx.StatePause {
			return omx.ErrorOutputBufferUseYet
		}
		return nil
	}

	if out.Mode().Is(vdec.ModeShare) {
		if d.Header != nil && !out.Holds(d.Header) {
			// 冲刷时已经归还
			return nil
		}
		if !h.dstStarted.Get() && !out.Flushing() {
			h.dstStartEvent.WaitTimeout(c.PauseMaxWait())
			if c.Exiting() {
				return nil
			}
			h.dstStartEvent.Reset()
		}
		if d.Header != nil && h.returnBypass(d.Header) {
			return nil
		}
	}

	if !h.dstConfigured.Get() {
		return omx.ErrorOutputBufferUseYet
	}
	if err := h.dstIn(d); err != nil {
		c.ErrorEvent(err)
		return err
	}
	return nil
}

func (h *Codec) dstIn(d *vdec.Data) error {
	c := h.c
	out := c.Port(omx.OutputPortIndex)
	if d.Planes[0].Addr == nil && d.Header == nil {
		return omx.ErrorBadParameter
	}

	if out.Mode().Is(vdec.ModeShare) && c.ReconfigDPB.Get() &&
		out.Exception() == vdec.ExceptionGeneral {
		if err := h.dstSetup(); err != nil {
			return err
		}
		c.ReconfigDPB.Set(false)
	}

	h.mu.Lock()
	conf := h.outConf
	h.mu.Unlock()

	var planes []device.Plane
	var private interface{}
	if out.Mode().Is(vdec.ModeCopy) {
		cb := d.CodecBuffer()
		if cb == nil {
			return omx.ErrorBadParameter
		}
		planes = cb.PlaneSlice()
		private = cb
	} else {
		var ok bool
		planes, ok = sharePlanes(d.Header.Buffer, &conf, out.Planes())
		if !ok {
			h.logger.Errorf("output buffer is too small: %d", len(d.Header.Buffer))
			return omx.ErrorBadParameter
		}
		private = d.Header
	}

	if err := h.dev.Output().Enqueue(planes, private); err != nil {
		if err != device.ErrWrongBufferSize {
			h.logger.Errorf("enqueue output buffer failed: %v", err)
			return omx.ErrorCodecDecode
		}
		h.logger.Warnf("output buffer size does not match: %v", err)
	}
	h.Start(omx.OutputPortIndex)
	return nil
}

// DstOutputProcess 取回解码后的图像
func (h *Codec) DstOutputProcess(d *vdec.Data) error {
	c := h.c
	out := c.Port(omx.OutputPortIndex)
	if h.dev == nil || !out.Enabled() || !out.Populated() ||
		!c.CheckBufferProcessState(omx.OutputPortIndex) {
		return vdec.ErrNoPicture
	}

	if out.Mode().Is(vdec.ModeCopy) {
		if !h.dstStarted.Get() && !out.Flushing() {
			h.dstStartEvent.WaitTimeout(c.PauseMaxWait())
			if c.Exiting() {
				return vdec.ErrNoPicture
			}
			h.dstStartEvent.Reset()
		}
		if h.bypassLen() > 0 {
			slot := out.Slot(vdec.OutputWay)
			hdr := slot.Header
			if !slot.Valid || hdr == nil {
				hdr = c.OutputBufferGetQueueDirect()
			}
			if hdr == nil {
				return omx.ErrorUndefined
			}
			h.returnBypass(hdr)
			slot.Reset()
			return vdec.ErrNoPicture
		}
	}

	err := h.dstOut(d)
	if err != nil && err != vdec.ErrNoPicture && c.State() == omx.StateExecuting {
		c.ErrorEvent(err)
	}
	return err
}

// displayable 需要交给输出端口处理的显示状态
func displayable(s device.DisplayStatus) bool {
	switch s {
	case device.DisplayStatusDecodingDisplay, device.DisplayStatusDisplayOnly,
		device.DisplayStatusChangeResol, device.DisplayStatusDecodingFinished,
		device.DisplayStatusEnabledS3D, device.DisplayStatusLastFrame:
		return true
	}
	return false
}

func (h *Codec) dstOut(d *vdec.Data) error {
	c := h.c
	out := c.Port(omx.OutputPortIndex)
	ops := h.dev.Output()

	var buf *device.Buffer
	for {
		if !ops.Poll(c.PauseMaxWait()) {
			return vdec.ErrNoPicture
		}
		b, err := ops.Dequeue()
		if err == device.ErrEIO {
			h.logger.Error("output queue is not available")
			return omx.ErrorHardware
		}
		if err != nil || b == nil {
			return vdec.ErrNoPicture
		}
		if displayable(b.DisplayStatus) || out.Flushing() {
			buf = b
			break
		}
		// 只解码不显示的缓冲直接放回空闲队列
		if cb, ok := b.Private.(*vdec.CodecBuffer); ok && out.Mode().Is(vdec.ModeCopy) {
			out.CodecQueue().Enqueue(cb)
		}
	}
	status := buf.DisplayStatus

	if status == device.DisplayStatusChangeResol || status == device.DisplayStatusEnabledS3D {
		if !c.Thumbnail() && !c.ReconfigDPB.Get() {
			h.logger.Infof("resolution change detected (%s)", status)
			out.SetException(vdec.ExceptionNeedPortFlush)
			c.ReconfigDPB.Set(true)
			if err := h.updateResolution(); err != nil {
				return err
			}
		}
		return vdec.ErrNoPicture
	}

	ts := c.Timestamps()
	outputIndex := ts.NextOutputIndex()

	d.AllocSize, d.DataLen = 0, 0
	planeCnt := out.Planes()
	for i := range d.Planes {
		if i < planeCnt && i < buf.PlaneCount {
			d.Planes[i] = buf.Planes[i]
			d.AllocSize += buf.Planes[i].AllocSize
			d.DataLen += buf.Planes[i].DataSize
		} else {
			d.Planes[i] = device.Plane{}
		}
	}
	d.UsedDataLen = 0
	d.Private = nil
	if out.Mode().Is(vdec.ModeCopy) {
		cb, ok := buf.Private.(*vdec.CodecBuffer)
		if !ok {
			h.logger.Error("output codec buffer not found")
			return omx.ErrorCodecDecode
		}
		d.Private = cb
	}
	d.Header, _ = buf.Private.(*omx.BufferHeader)

	h.mu.Lock()
	conf := h.outConf
	h.mu.Unlock()
	d.Ext = vdec.DataExt{
		Width:       conf.FrameWidth,
		Height:      conf.FrameHeight,
		Stride:      conf.Stride,
		ColorFormat: conf.ColorFormat,
		FrameType:   buf.FrameType,
	}

	tag := h.dev.FrameTag()
	keyFrame := buf.FrameType.Is(device.FrameTypeI)
	if !c.ReorderMode() {
		if tag < 0 || tag >= timestamp.Capacity {
			d.Timestamp, d.Flags = 0, 0
			if !c.NeedSetStartTimestamp() && !c.NeedCheckStartTimestamp() && tag != timestamp.IndexAfterEOS {
				s, _ := ts.Slot(outputIndex)
				d.Timestamp, d.Flags = s.Timestamp, s.Flags
				h.logger.Debugf("missing output tag %d, use slot %d", tag, outputIndex)
			}
		} else {
			if c.DTSMode() {
				s, _ := ts.Slot(tag)
				if keyFrame ||
					(buf.FrameType.Is(device.FrameTypeOthers) && s.Flags&omx.BufferFlagEOS != 0) ||
					c.NeedCheckStartTimestamp() {
					ts.SetOutputIndex(tag)
				} else {
					tag = ts.OutputIndex()
				}
			}
			s, _ := ts.Slot(tag)
			d.Timestamp = s.Timestamp
			d.Flags = s.Flags | omx.BufferFlagEndOfFrame
			if keyFrame {
				d.Flags |= omx.BufferFlagSyncFrame
			}
			if buf.FrameType.Is(device.FrameTypeCorrupt) {
				d.Flags |= omx.BufferFlagDataCorrupt
			}
		}
	} else {
		cur := ts.GetReorder(tag, keyFrame, buf.FrameType.Is(device.FrameTypeCorrupt), c.BehaviorEOS.Get())
		d.Timestamp = cur.Timestamp
		d.Flags = cur.Flags | omx.BufferFlagEndOfFrame
		ts.Release(cur.Index)
	}
	h.logger.Debugf("output ts = %d, tag = %d, status = %s, type = 0x%x, flags = %s",
		d.Timestamp, tag, status, uint32(buf.FrameType), omx.FlagsString(d.Flags))

	frameSize := conf.FrameWidth * conf.FrameHeight * 3 / 2
	isB := buf.FrameType.Is(device.FrameTypeB)
	if !h.info.LastFrameSupport {
		if !isB && c.SaveEOS.Get() {
			d.Flags |= omx.BufferFlagEOS
		}
		switch {
		case status == device.DisplayStatusDecodingFinished:
			d.RemainDataLen = 0
			if tag < 0 || tag >= timestamp.Capacity {
				if tag != timestamp.IndexAfterEOS {
					h.logger.Warnf("wrong output tag %d", tag)
				}
				d.Timestamp, d.Flags = 0, 0
				return nil
			}
			if s, _ := ts.Slot(tag); s.Flags&omx.BufferFlagEOS != 0 || c.SaveEOS.Get() {
				d.Flags |= omx.BufferFlagEOS
				ts.ClearFlags(tag, omx.BufferFlagEOS)
			}
		case d.Flags&omx.BufferFlagEOS != 0:
			d.RemainDataLen = 0
			if c.BehaviorEOS.Get() {
				d.RemainDataLen = frameSize
				if !isB {
					c.BehaviorEOS.Set(false)
				} else {
					c.SaveEOS.Set(true)
					d.Flags &^= omx.BufferFlagEOS
				}
			}
		default:
			d.RemainDataLen = frameSize
		}
		return nil
	}

	if status == device.DisplayStatusDecodingFinished || status == device.DisplayStatusLastFrame ||
		d.Flags&omx.BufferFlagEOS != 0 {
		d.RemainDataLen = 0
		if c.BehaviorEOS.Get() || status == device.DisplayStatusLastFrame {
			d.RemainDataLen = frameSize
			if status != device.DisplayStatusLastFrame {
				d.Flags &^= omx.BufferFlagEOS
			} else {
				d.Flags |= omx.BufferFlagEOS
				c.BehaviorEOS.Set(false)
			}
		}
	} else {
		d.RemainDataLen = frameSize
	}
	return nil
}
