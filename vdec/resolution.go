// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/timestamp"
)

// 编解码缓冲的数量上限
const (
	CodecInputBufferNum  = 3
	CodecOutputBufferNum = 32
	CodecInputBufferSize = MaxFrameWidth * MaxFrameHeight * 3 / 2
)

// SetSupportFormat 根据编解码器的能力生成输出端口支持的格式列表
func (c *Component) SetSupportFormat() {
	if c.codec == nil {
		return
	}

	var formats []omx.ColorFormat
	if !c.Custom() {
		formats = []omx.ColorFormat{omx.ColorFormatYUV420Planar, omx.ColorFormatYUV420SemiPlanar}
	} else {
		formats = []omx.ColorFormat{omx.ColorFormatYUV420SemiPlanar, omx.ColorFormatYUV420Planar}
	}

	// 硬件直接支持的格式，不需要转换
	for _, f := range []omx.ColorFormat{
		omx.ColorFormatNV12Tiled,
		omx.ColorFormatYVU420Planar,
		omx.ColorFormatNV21Linear,
	} {
		if c.codec.CheckFormatSupport(f) {
			formats = append(formats, f)
		}
	}

	p := c.ports[omx.OutputPortIndex]
	p.mu.Lock()
	p.formats = formats
	p.mu.Unlock()
}

func align(v, n int) int { return (v + n - 1) / n * n }

// UpdateFrameSize 输出端口的尺寸跟随输入端口，并重新计算缓冲大小
func (c *Component) UpdateFrameSize() {
	in := c.ports[omx.InputPortIndex].Definition()
	out := c.ports[omx.OutputPortIndex]

	out.UpdateDefinition(func(def *omx.PortDefinition) {
		if def.FrameWidth == in.FrameWidth && def.FrameHeight == in.FrameHeight {
			return
		}

		def.FrameWidth = in.FrameWidth
		def.FrameHeight = in.FrameHeight
		def.Stride = in.Stride
		def.SliceHeight = in.SliceHeight
		width, height := def.Stride, def.SliceHeight
		if width == 0 || height == 0 {
			return
		}

		if def.ColorFormat.YUV420() {
			def.BufferSize = align(width, 16) * align(height, 16) * 3 / 2
		} else {
			def.BufferSize = align(width, 16) * align(height, 16) * 2
		}
	})
}

// ResolutionUpdate 使新的分辨率和缓冲数量生效，并通知框架裁剪区域改变
func (c *Component) ResolutionUpdate() error {
	in := c.ports[omx.InputPortIndex]
	out := c.ports[omx.OutputPortIndex]

	out.SetCrop(out.NewCrop())

	newIn := in.NewDefinition()
	in.UpdateDefinition(func(def *omx.PortDefinition) {
		def.FrameWidth = newIn.FrameWidth
		def.FrameHeight = newIn.FrameHeight
		def.Stride = newIn.Stride
		def.SliceHeight = newIn.SliceHeight
	})

	newOut := out.NewDefinition()
	out.UpdateDefinition(func(def *omx.PortDefinition) {
		def.BufferCountActual = newOut.BufferCountActual
		def.BufferCountMin = newOut.BufferCountMin
	})

	c.UpdateFrameSize()
	c.logger.Infof("resolution updated: %dx%d, stride = %d, dpb = %d",
		newIn.FrameWidth, newIn.FrameHeight, newIn.Stride, newOut.BufferCountActual)
	c.PortSettingsChanged(omx.OutputPortIndex, omx.IndexConfigCommonOutputCrop)
	return nil
}

// AllocateCodecBuffers 为 Copy 模式的端口分配 n 个编解码缓冲，
// sizes 为每个平面的大小；失败时释放已经分配的缓冲
func (c *Component) AllocateCodecBuffers(port, n int, sizes []int) error {
	p := c.ports[port]
	planes := p.Planes()
	if planes > len(sizes) {
		return omx.ErrorBadParameter
	}

	p.codecBufs = make([]*CodecBuffer, 0, n)
	for i := 0; i < n; i++ {
		cb := &CodecBuffer{}
		p.codecBufs = append(p.codecBufs, cb)
		for j := 0; j < planes; j++ {
			block, err := c.alloc.Alloc(sizes[j])
			if err != nil {
				c.logger.Errorf("allocate codec buffer[%d][%d] (%d bytes) failed: %v", i, j, sizes[j], err)
				c.FreeCodecBuffers(port)
				return omx.ErrorInsufficientResources
			}
			cb.Planes[j].Addr = block.Data
			cb.Planes[j].FD = block.FD
			cb.Planes[j].AllocSize = sizes[j]
		}
		cb.DataSize = 0
	}
	return nil
}

// FreeCodecBuffers 释放端口的全部编解码缓冲
func (c *Component) FreeCodecBuffers(port int) {
	p := c.ports[port]
	for _, cb := range p.codecBufs {
		for j := range cb.Planes {
			if cb.Planes[j].Addr != nil {
				c.alloc.Free(cb.Planes[j].Addr)
			}
		}
	}
	p.codecBufs = nil
}

// CodecBuffers 端口的编解码缓冲
func (c *Component) CodecBuffers(port int) []*CodecBuffer {
	return c.ports[port].codecBufs
}

// ResetAllPortConfig 把两个端口恢复到初始配置
func (c *Component) ResetAllPortConfig() {
	in := c.ports[omx.InputPortIndex]
	out := c.ports[omx.OutputPortIndex]

	in.UpdateDefinition(func(def *omx.PortDefinition) {
		def.FrameWidth = DefaultFrameWidth
		def.FrameHeight = DefaultFrameHeight
		def.Stride = 0
		def.SliceHeight = 0
		def.ColorFormat = omx.ColorFormatUnused
		def.BufferSize = inputBufferSize
		def.Enabled = true
	})
	in.mode = c.opts.inputMode
	in.SetPlanes(1)

	out.UpdateDefinition(func(def *omx.PortDefinition) {
		def.FrameWidth = DefaultFrameWidth
		def.FrameHeight = DefaultFrameHeight
		def.Stride = 0
		def.SliceHeight = 0
		def.ColorFormat = omx.ColorFormatYUV420Planar
		def.BufferCountActual = MaxOutputBufferNum
		def.BufferCountMin = MaxOutputBufferNum
		def.BufferSize = outputBufferSize
		def.Enabled = true
	})
	out.mode = c.opts.outputMode
	out.SetPlanes(device.PlaneCount(omx.ColorFormatYUV420Planar))
	out.SetCrop(omx.Rect{Width: DefaultFrameWidth, Height: DefaultFrameHeight})
	c.ts.SetLatest(timestamp.DefaultValue)
}
