// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"errors"

	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
)

var (
	errShortBuffer = errors.New("vdec: output buffer too small")
	errNoPicture   = errors.New("vdec: picture has no data")
)

// chromaLayout 色度平面的排列
type chromaLayout struct {
	planar bool // 三平面
	swapUV bool // V 在前
}

func layoutOf(f omx.ColorFormat) chromaLayout {
	switch f {
	case omx.ColorFormatYUV420Planar:
		return chromaLayout{planar: true}
	case omx.ColorFormatYVU420Planar:
		return chromaLayout{planar: true, swapUV: true}
	case omx.ColorFormatNV21Linear:
		return chromaLayout{swapUV: true}
	}
	// NV12 及其 tiled、interlace 变体按 NV12 线性处理
	return chromaLayout{}
}

// picture 带步长的 YUV420 图像
type picture struct {
	layout  chromaLayout
	width   int
	height  int
	stride  int
	planes  [3][]byte
	cstride int // 色度平面的步长
}

func (pic *picture) u(x, y int) byte {
	if pic.layout.planar {
		i := 1
		if pic.layout.swapUV {
			i = 2
		}
		return pic.planes[i][y*pic.cstride+x]
	}
	off := y*pic.cstride + x*2
	if pic.layout.swapUV {
		off++
	}
	return pic.planes[1][off]
}

func (pic *picture) v(x, y int) byte {
	if pic.layout.planar {
		i := 2
		if pic.layout.swapUV {
			i = 1
		}
		return pic.planes[i][y*pic.cstride+x]
	}
	off := y*pic.cstride + x*2
	if !pic.layout.swapUV {
		off++
	}
	return pic.planes[1][off]
}

// sourcePicture 描述编解码器输出的图像；单平面时按步长推算色度地址
func sourcePicture(d *Data, sliceHeight int) (*picture, error) {
	ext := d.Ext
	if ext.Width <= 0 || ext.Height <= 0 || d.Planes[0].Addr == nil {
		return nil, errNoPicture
	}
	pic := &picture{
		layout: layoutOf(ext.ColorFormat),
		width:  ext.Width,
		height: ext.Height,
		stride: ext.Stride,
	}
	if pic.stride < pic.width {
		pic.stride = pic.width
	}
	if sliceHeight < pic.height {
		sliceHeight = pic.height
	}
	if pic.layout.planar {
		pic.cstride = pic.stride / 2
	} else {
		pic.cstride = pic.stride
	}

	n := device.PlaneCount(ext.ColorFormat)
	pic.planes[0] = d.Planes[0].Addr
	if d.Planes[1].Addr == nil && n > 1 {
		// 单平面：色度紧跟亮度
		ySize := pic.stride * sliceHeight
		buf := d.Planes[0].Addr
		if len(buf) < ySize*3/2 {
			return nil, errNoPicture
		}
		if n == 2 {
			pic.planes[1] = buf[ySize:]
		} else {
			cSize := ySize / 4
			pic.planes[1] = buf[ySize : ySize+cSize]
			pic.planes[2] = buf[ySize+cSize:]
		}
		return pic, nil
	}
	pic.planes[1] = d.Planes[1].Addr
	pic.planes[2] = d.Planes[2].Addr
	return pic, nil
}

// convertOutput 把编解码缓冲中的图像按输出端口格式紧凑地写入框架缓冲
func (c *Component) convertOutput(d *Data, slot *DataBuffer) error {
	p := c.ports[omx.OutputPortIndex]
	def := p.Definition()

	src, err := sourcePicture(d, def.SliceHeight)
	if err != nil {
		return err
	}
	if slot.Header == nil {
		return errNoPicture
	}

	w, h := src.width, src.height
	cw, ch := (w+1)/2, (h+1)/2
	ySize := w * h
	need := ySize + cw*ch*2
	dst := slot.Header.Buffer
	if len(dst) < need {
		return errShortBuffer
	}

	// 亮度逐行复制，去掉步长
	for y := 0; y < h; y++ {
		copy(dst[y*w:y*w+w], src.planes[0][y*src.stride:])
	}

	dl := layoutOf(def.ColorFormat)
	chroma := dst[ySize:need]
	switch {
	case dl == src.layout && !dl.planar:
		for y := 0; y < ch; y++ {
			copy(chroma[y*cw*2:y*cw*2+cw*2], src.planes[1][y*src.cstride:])
		}
	case dl.planar:
		first, second := chroma[:cw*ch], chroma[cw*ch:]
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				u, v := src.u(x, y), src.v(x, y)
				if dl.swapUV {
					u, v = v, u
				}
				first[y*cw+x] = u
				second[y*cw+x] = v
			}
		}
	default:
		for y := 0; y < ch; y++ {
			for x := 0; x < cw; x++ {
				u, v := src.u(x, y), src.v(x, y)
				if dl.swapUV {
					u, v = v, u
				}
				chroma[y*cw*2+x*2] = u
				chroma[y*cw*2+x*2+1] = v
			}
		}
	}

	slot.DataLen = need
	slot.RemainDataLen = need
	return nil
}
