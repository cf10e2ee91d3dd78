// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/vdec"
)

func align16(v int) int { return (v + 15) &^ 15 }

// inputPlane 码流数据所在的平面
func inputPlane(d *vdec.Data) device.Plane {
	return device.Plane{
		Addr:      d.Planes[0].Addr,
		FD:        d.Planes[0].FD,
		AllocSize: d.AllocSize,
		DataSize:  d.DataLen,
	}
}

// sharePlanes 按引擎的平面大小切分框架缓冲
func sharePlanes(buf []byte, conf *device.Geometry, n int) ([]device.Plane, bool) {
	planes := make([]device.Plane, n)
	off := 0
	for i := 0; i < n; i++ {
		size := conf.PlaneSize[i]
		if off+size > len(buf) {
			return nil, false
		}
		planes[i] = device.Plane{Addr: buf[off : off+size], FD: -1, AllocSize: size}
		off += size
	}
	return planes, true
}

// srcSetup 用第一个码流缓冲配置输入队列并解析序列头。
// 成功时返回 ErrorInputDataDecodeYet，同一个缓冲随后会再次提交解码。
func (h *Codec) srcSetup(d *vdec.Data) error {
	c := h.c
	in := c.Port(omx.InputPortIndex)
	out := c.Port(omx.OutputPortIndex)
	ops := h.dev.Input()

	if d.DataLen == 0 && d.Flags&omx.BufferFlagEOS != 0 {
		// 只有 EOS，引擎不需要配置
		h.logger.Info("first input buffer is EOS without data")
		h.pushBypass(d.Flags, d.Timestamp)
		h.dstStartEvent.Set()
		h.returnInput(d)
		return nil
	}

	if c.Thumbnail() {
		if err := h.dev.SetIFrameDecoding(); err != nil {
			h.logger.Warnf("set I-frame decoding failed: %v", err)
		}
	} else if delay := c.DisplayDelay(); delay >= 0 && delay <= maxDisplayDelay {
		if err := h.dev.SetDisplayDelay(delay); err != nil {
			h.logger.Warnf("set display delay %d failed: %v", delay, err)
		}
	}
	if c.DTSMode() {
		if err := h.dev.EnableDTSMode(); err != nil {
			h.logger.Warnf("enable dts mode failed: %v", err)
		}
	}

	inDef := in.Definition()
	g := device.Geometry{PlaneCount: in.Planes()}
	n := vdec.CodecInputBufferNum
	if in.Mode().Is(vdec.ModeShare) {
		g.SizeImage = inDef.BufferSize
		n = inDef.BufferCountActual
	} else {
		g.SizeImage = vdec.CodecInputBufferSize
	}
	if err := ops.SetGeometry(&g); err != nil {
		h.logger.Errorf("set input geometry failed: %v", err)
		return omx.ErrorInsufficientResources
	}
	if err := ops.Setup(n); err != nil {
		h.logger.Errorf("setup input queue failed: %v", err)
		return omx.ErrorInsufficientResources
	}

	// 引擎不支持的格式由组件转换
	format := out.Definition().ColorFormat
	switch {
	case h.dev.CheckFormat(format):
	case h.dev.CheckFormat(omx.ColorFormatNV12Tiled):
		format = omx.ColorFormatNV12Tiled
	case h.dev.CheckFormat(omx.ColorFormatYUV420SemiPlanar):
		format = omx.ColorFormatYUV420SemiPlanar
	default:
		h.logger.Errorf("no supported output format for %s", out.Definition().ColorFormat)
		return omx.ErrorNotImplemented
	}
	planes := device.PlaneCount(format)
	out.SetPlanes(planes)
	if err := h.dev.Output().SetGeometry(&device.Geometry{ColorFormat: format, PlaneCount: planes}); err != nil {
		h.logger.Errorf("set output geometry failed: %v", err)
		return omx.ErrorInsufficientResources
	}

	if err := ops.Enqueue([]device.Plane{inputPlane(d)}, nil); err != nil {
		h.logger.Errorf("enqueue header failed: %v", err)
		return omx.ErrorCodecInit
	}
	if err := ops.Run(); err != nil {
		h.logger.Errorf("run input queue failed: %v", err)
		return omx.ErrorCodecInit
	}

	if err := h.updateResolution(); err != nil {
		if omx.Code(err) == omx.ErrorCorruptedHeader {
			head := d.Planes[0].Addr
			if len(head) > 8 {
				head = head[:8]
			}
			h.logger.Errorf("sequence header is corrupted: % x", head)
		}
		ops.Stop()
		ops.Cleanup()
		return err
	}

	ops.Stop()
	h.logger.Debugf("input configured, output format = %s", format)
	return omx.ErrorInputDataDecodeYet
}

// dstSetup 配置输出队列。Copy 模式分配并提交编解码缓冲，Share 模式登记框架缓冲。
func (h *Codec) dstSetup() error {
	c := h.c
	out := c.Port(omx.OutputPortIndex)
	ops := h.dev.Output()

	h.mu.Lock()
	conf, dpb := h.outConf, h.maxDPB
	h.mu.Unlock()
	planes := out.Planes()

	if out.Mode().Is(vdec.ModeCopy) {
		if err := ops.Setup(dpb); err != nil {
			h.logger.Errorf("setup output queue (%d) failed: %v", dpb, err)
			return omx.ErrorInsufficientResources
		}
		if err := c.AllocateCodecBuffers(omx.OutputPortIndex, dpb, conf.PlaneSize[:]); err != nil {
			return err
		}
		bufs := c.CodecBuffers(omx.OutputPortIndex)
		for _, cb := range bufs {
			if err := ops.Register(cb.PlaneSlice()); err != nil {
				h.logger.Errorf("register output buffer failed: %v", err)
				return omx.ErrorInsufficientResources
			}
		}
		for _, cb := range bufs {
			if err := ops.Enqueue(cb.PlaneSlice(), cb); err != nil {
				h.logger.Errorf("enqueue output buffer failed: %v", err)
				return omx.ErrorInsufficientResources
			}
		}
		if err := ops.Run(); err != nil {
			h.logger.Errorf("run output queue failed: %v", err)
			return omx.ErrorCodecInit
		}
	} else if out.Mode().Is(vdec.ModeShare) {
		hdrs := out.Headers()
		n := out.Definition().BufferCountActual
		if err := ops.Setup(n); err != nil {
			h.logger.Errorf("setup output queue (%d) failed: %v", n, err)
			return omx.ErrorInsufficientResources
		}
		for _, hdr := range hdrs {
			ps, ok := sharePlanes(hdr.Buffer, &conf, planes)
			if !ok {
				h.logger.Errorf("output buffer is too small: %d", len(hdr.Buffer))
				return omx.ErrorInsufficientResources
			}
			if err := ops.Register(ps); err != nil {
				h.logger.Errorf("register output buffer failed: %v", err)
				return omx.ErrorInsufficientResources
			}
		}
		if err := ops.ApplyRegistered(); err != nil {
			h.logger.Errorf("apply registered output buffers failed: %v", err)
			return omx.ErrorInsufficientResources
		}
	}

	h.dstConfigured.Set(true)
	h.logger.Debugf("output configured: %dx%d, dpb = %d", conf.FrameWidth, conf.FrameHeight, dpb)
	return nil
}

// definitionUpdater 重新配置缓冲期间写入新的端口定义，其他时候直接修改当前定义
func definitionUpdater(p *vdec.Port, reconfig bool) func(func(def *omx.PortDefinition)) {
	if !reconfig {
		return p.UpdateDefinition
	}
	cur := p.Definition()
	return func(f func(def *omx.PortDefinition)) {
		p.UpdateNewDefinition(func(def *omx.PortDefinition) {
			*def = cur
			f(def)
		})
	}
}

// updateResolution 读取引擎解析出的输出格式，需要时通知框架重新配置输出端口
func (h *Codec) updateResolution() error {
	c := h.c
	in := c.Port(omx.InputPortIndex)
	out := c.Port(omx.OutputPortIndex)

	conf, err := h.dev.Output().Geometry()
	if err != nil {
		h.logger.Errorf("get output geometry failed: %v", err)
		return omx.ErrorCorruptedHeader
	}
	dpb := h.dev.ActualDPB()
	if !c.Thumbnail() {
		dpb += ExtraDPBNum
	}

	h.mu.Lock()
	old := h.outConf
	h.outConf = conf
	h.maxDPB = dpb
	h.mu.Unlock()
	h.srcConfigured.Set(true)

	// 重新配置缓冲时新的定义在 ResolutionUpdate 中生效
	reconfig := c.ReconfigDPB.Get()
	inDef, outDef := in.Definition(), out.Definition()
	sizeChanged := inDef.FrameWidth != conf.FrameWidth || inDef.FrameHeight != conf.FrameHeight
	changed := false
	if out.Mode().Is(vdec.ModeCopy) {
		changed = sizeChanged
	} else if out.Mode().Is(vdec.ModeShare) {
		changed = sizeChanged || outDef.BufferCountActual != dpb ||
			old.Interlaced != conf.Interlaced
	}

	if changed || reconfig {
		stride := conf.Stride
		if stride == 0 {
			stride = align16(conf.FrameWidth)
		}
		definitionUpdater(in, reconfig)(func(def *omx.PortDefinition) {
			def.FrameWidth = conf.FrameWidth
			def.FrameHeight = conf.FrameHeight
			def.Stride = stride
			def.SliceHeight = align16(conf.FrameHeight)
		})
		definitionUpdater(out, reconfig)(func(def *omx.PortDefinition) {
			if out.Mode().Is(vdec.ModeShare) {
				def.BufferCountActual = dpb
				def.BufferCountMin = dpb
			}
		})
		if !reconfig {
			c.UpdateFrameSize()
		}
		h.logger.Infof("output port settings changed: %dx%d, stride = %d, dpb = %d",
			conf.FrameWidth, conf.FrameHeight, stride, dpb)
		out.SetException(vdec.ExceptionNeedPortDisable)
		c.PortSettingsChanged(omx.OutputPortIndex, 0)
	}

	if reconfig {
		out.SetNewCrop(conf.Crop)
	} else if conf.Crop != out.Crop() {
		out.SetCrop(conf.Crop)
		c.PortSettingsChanged(omx.OutputPortIndex, omx.IndexConfigCommonOutputCrop)
	}
	return nil
}

// CheckResolutionChange 强制解析序列头之后检查输出格式是否改变
func (h *Codec) CheckResolutionChange() error {
	c := h.c
	if h.dev == nil {
		return omx.ErrorUndefined
	}
	in := c.Port(omx.InputPortIndex)
	out := c.Port(omx.OutputPortIndex)

	conf, err := h.dev.Output().Geometry()
	if err != nil {
		h.logger.Errorf("get output geometry failed: %v", err)
		return omx.ErrorHardware
	}
	dpb := h.dev.ActualDPB()
	if !c.Thumbnail() {
		dpb += ExtraDPBNum
	}

	h.mu.Lock()
	old, oldDPB := h.outConf, h.maxDPB
	h.outConf = conf
	h.maxDPB = dpb
	h.mu.Unlock()

	if conf.FrameWidth != old.FrameWidth || conf.FrameHeight != old.FrameHeight ||
		conf.Stride != old.Stride || dpb != oldDPB {
		h.logger.Infof("resolution changed: %dx%d -> %dx%d, dpb %d -> %d",
			old.FrameWidth, old.FrameHeight, conf.FrameWidth, conf.FrameHeight, oldDPB, dpb)

		stride := conf.Stride
		if stride == 0 {
			stride = align16(conf.FrameWidth)
		}
		in.UpdateDefinition(func(def *omx.PortDefinition) {
			def.FrameWidth = conf.FrameWidth
			def.FrameHeight = conf.FrameHeight
			def.Stride = stride
			def.SliceHeight = align16(conf.FrameHeight)
		})
		if out.Mode().Is(vdec.ModeShare) {
			out.UpdateDefinition(func(def *omx.PortDefinition) {
				def.BufferCountActual = dpb
				def.BufferCountMin = dpb
			})
		}
		c.UpdateFrameSize()

		if out.Exception() == vdec.ExceptionGeneral {
			out.SetException(vdec.ExceptionNeedPortDisable)
			c.PortSettingsChanged(omx.OutputPortIndex, 0)
		}
	}

	if conf.Crop != old.Crop {
		out.SetCrop(conf.Crop)
		c.PortSettingsChanged(omx.OutputPortIndex, omx.IndexConfigCommonOutputCrop)
	}
	return nil
}
