// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"sync"

	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
)

// DataExt 图像的附加信息
type DataExt struct {
	Width       int
	Height      int
	Stride      int
	ColorFormat omx.ColorFormat
	FrameType   device.FrameType
}

// Data 在工作协程与编解码器之间传递的数据记录，只借用内存
type Data struct {
	Planes        [omx.MaxBufferPlane]device.Plane
	AllocSize     int
	DataLen       int
	UsedDataLen   int
	RemainDataLen int
	Flags         uint32
	Timestamp     int64
	Header        *omx.BufferHeader // 框架缓冲
	Private       interface{}       // Copy 模式下为 *CodecBuffer
	Ext           DataExt
}

// Reset 清除长度、标志和引用，保留平面信息
func (d *Data) Reset() {
	d.DataLen = 0
	d.UsedDataLen = 0
	d.RemainDataLen = 0
	d.Flags = 0
	d.Timestamp = 0
	d.Private = nil
	d.Header = nil
}

// CodecBuffer 返回 Copy 模式下携带的编解码缓冲
func (d *Data) CodecBuffer() *CodecBuffer {
	cb, _ := d.Private.(*CodecBuffer)
	return cb
}

// DataBuffer 端口在一个方向上的交换槽，由槽上的锁保护
type DataBuffer struct {
	sync.Mutex
	Header        *omx.BufferHeader
	AllocSize     int
	DataLen       int
	UsedDataLen   int
	RemainDataLen int
	Flags         uint32
	Timestamp     int64
	Private       interface{}
	Valid         bool
}

// Reset 使槽位失效
func (b *DataBuffer) Reset() {
	b.Valid = false
	b.DataLen = 0
	b.RemainDataLen = 0
	b.UsedDataLen = 0
	b.Header = nil
	b.Flags = 0
	b.Timestamp = 0
	b.Private = nil
}

// bufferToData Share 模式下将槽位的框架缓冲转交给数据记录
func bufferToData(b *DataBuffer, d *Data, planes int) error {
	if b.Header == nil {
		return omx.ErrorBadParameter
	}
	switch planes {
	case 1:
		d.Planes[0].Addr = b.Header.Buffer
	case 2, 3:
		// 多平面按平面数等分同一块缓冲
		buf := b.Header.Buffer
		luma := len(buf) * 2 / 3
		if planes == 2 {
			d.Planes[0].Addr = buf[:luma]
			d.Planes[1].Addr = buf[luma:]
		} else {
			chroma := (len(buf) - luma) / 2
			d.Planes[0].Addr = buf[:luma]
			d.Planes[1].Addr = buf[luma : luma+chroma]
			d.Planes[2].Addr = buf[luma+chroma:]
		}
	default:
		return omx.ErrorNotImplemented
	}

	d.AllocSize = b.AllocSize
	d.DataLen = b.DataLen
	d.UsedDataLen = b.UsedDataLen
	d.RemainDataLen = b.RemainDataLen
	d.Timestamp = b.Timestamp
	d.Flags = b.Flags
	d.Private = b.Private
	d.Header = b.Header
	return nil
}

// dataToBuffer Share 模式下将解码结果写回槽位
func dataToBuffer(d *Data, b *DataBuffer) {
	b.Header = d.Header
	b.AllocSize = d.AllocSize
	b.DataLen = d.DataLen
	b.UsedDataLen = d.UsedDataLen
	b.RemainDataLen = d.RemainDataLen
	b.Timestamp = d.Timestamp
	b.Flags = d.Flags
	b.Private = d.Private
}

// CodecBuffer Copy 模式下的内部缓冲，不会交给框架
type CodecBuffer struct {
	Planes   [omx.MaxBufferPlane]device.Plane
	DataSize int
}

// PlaneSlice 返回有效的平面
func (cb *CodecBuffer) PlaneSlice() []device.Plane {
	n := 0
	for n < len(cb.Planes) && cb.Planes[n].Addr != nil {
		n++
	}
	return cb.Planes[:n]
}

// codecBufferToData Copy 模式下用编解码缓冲填充数据记录
func codecBufferToData(cb *CodecBuffer, d *Data, portIndex int) {
	d.AllocSize = 0
	for i := range cb.Planes {
		d.Planes[i].Addr = cb.Planes[i].Addr
		d.Planes[i].FD = cb.Planes[i].FD
		d.Planes[i].AllocSize = cb.Planes[i].AllocSize
		d.AllocSize += cb.Planes[i].AllocSize
	}

	if portIndex == omx.InputPortIndex {
		d.DataLen = cb.DataSize
		d.RemainDataLen = cb.DataSize
	} else {
		d.DataLen = 0
		d.RemainDataLen = 0
	}
	d.UsedDataLen = 0
	d.Flags = 0
	d.Timestamp = 0
	d.Header = nil
	d.Private = cb
}
