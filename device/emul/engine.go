// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package emul

import (
	"github.com/cnotch/vdec/av/h264"
	"github.com/cnotch/vdec/device"
)

// parse 解析输入码流，生成待解码的图像，调用者持有锁
func (d *Decoder) parse(plane device.Plane) {
	data := plane.Addr
	if plane.DataSize < len(data) {
		data = data[:plane.DataSize]
	}
	if len(data) == 0 {
		d.pending.Push(&picture{tag: d.nextTag, eos: true})
		return
	}

	for _, nalu := range h264.SplitNalus(data) {
		switch {
		case h264.IsSps(nalu[0]):
			sps := &h264.SPS{}
			if err := sps.Decode(nalu); err != nil {
				d.logger.Warnf("%s decode sps failed: %v", Name, err)
				continue
			}
			d.sps = sps
			switch {
			case d.active == nil || d.out.count == 0 && d.pending.Len() == 0:
				// 输出队列还没有配置，直接使用新的格式
				d.applySPS(sps)
				d.queued = sps
			case !sameGeometry(d.queued, sps):
				d.pending.Push(&picture{tag: d.nextTag, sps: sps})
				d.queued = sps
			}
		case h264.IsSlice(nalu[0]):
			if p := d.parseSlice(nalu); p != nil {
				d.pending.Push(p)
			}
		}
	}
}

// parseSlice 每个图像的第一个片生成一个待解码图像
func (d *Decoder) parseSlice(nalu []byte) *picture {
	if d.sps == nil {
		d.logger.Warnf("%s slice without sps", Name)
		return nil
	}

	var h h264.SliceHeader
	if err := h.Decode(nalu, d.sps); err != nil {
		d.logger.Warnf("%s decode slice header failed: %v", Name, err)
		return &picture{tag: d.nextTag, poc: d.nextPoc(), typ: device.FrameTypeP | device.FrameTypeCorrupt}
	}
	if h.FirstMbInSlice != 0 {
		return nil
	}

	p := &picture{tag: d.nextTag, idr: h.IDR()}
	switch h.SliceType {
	case h264.SliceI, h264.SliceSI:
		p.typ = device.FrameTypeI
	case h264.SliceB:
		p.typ = device.FrameTypeB
	default:
		p.typ = device.FrameTypeP
	}

	if p.idr {
		d.prevPocMsb, d.prevPocLsb = 0, 0
		d.decoded = 0
	}
	if d.sps.PicOrderCntType != 0 {
		p.poc = d.nextPoc()
		return p
	}

	// 8.2.1.1
	max := d.sps.MaxPicOrderCntLsb()
	lsb := int(h.PicOrderCntLsb)
	msb := d.prevPocMsb
	switch {
	case lsb < d.prevPocLsb && d.prevPocLsb-lsb >= max/2:
		msb += max
	case lsb > d.prevPocLsb && lsb-d.prevPocLsb > max/2:
		msb -= max
	}
	p.poc = msb + lsb
	if h.Reference() {
		d.prevPocMsb, d.prevPocLsb = msb, lsb
	}
	d.decoded++
	return p
}

// nextPoc 不使用 POC lsb 时按解码顺序显示
func (d *Decoder) nextPoc() int {
	poc := d.decoded * 2
	d.decoded++
	return poc
}

// displayDelay 输出前需要缓存的图像数
func (d *Decoder) displayDelay() int {
	switch {
	case d.iframe:
		return 0
	case d.delay >= 0:
		return d.delay
	case d.active != nil:
		return d.active.ReorderDepth()
	}
	return 0
}

// pump 在输入、输出队列都运行时解码待处理的图像，调用者持有锁
func (d *Decoder) pump() {
	for d.in.running && d.out.running && !d.reconfig && !d.closed && d.pending.Len() > 0 {
		p := d.pending.Elems()[0].(*picture)
		switch {
		case p.sps != nil:
			// 先显示旧格式的图像，再通知格式改变
			d.flushDPB(false)
			d.applySPS(p.sps)
			d.reconfig = true
			d.out.push(&device.Buffer{DisplayStatus: device.DisplayStatusChangeResol}, p.tag)
			d.logger.Infof("%s resolution change: %dx%d", Name, d.conf.FrameWidth, d.conf.FrameHeight)

		case p.eos:
			if d.info.LastFrameSupport && len(d.dpb) > 0 {
				d.flushDPB(true)
				break
			}
			if d.out.free.Len() == 0 {
				return
			}
			d.flushDPB(false)
			v, _ := d.out.free.Pop()
			f := v.(*frame)
			d.out.push(d.frameBuffer(f, device.FrameTypeOthers, device.DisplayStatusDecodingFinished, 0), p.tag)

		case d.iframe && !p.typ.Is(device.FrameTypeI):
			// 只解码 I 图像

		default:
			if d.out.free.Len() == 0 {
				return
			}
			if p.idr {
				d.flushDPB(false)
			}
			v, _ := d.out.free.Pop()
			p.frame = v.(*frame)
			fill(p.frame, p.poc)
			d.dpb = append(d.dpb, p)
			for delay := d.displayDelay(); len(d.dpb) > delay; {
				idx := d.minPoc()
				d.display(idx, d.dpb[idx] == p, false)
			}
		}
		d.pending.Pop()
	}
}

// minPoc 最先显示的图像
func (d *Decoder) minPoc() int {
	idx := 0
	for i, p := range d.dpb {
		if p.poc < d.dpb[idx].poc {
			idx = i
		}
	}
	return idx
}

// display 输出 dpb 中的第 idx 个图像
func (d *Decoder) display(idx int, decoding, last bool) {
	p := d.dpb[idx]
	d.dpb = append(d.dpb[:idx], d.dpb[idx+1:]...)

	status := device.DisplayStatusDisplayOnly
	switch {
	case last:
		status = device.DisplayStatusLastFrame
	case decoding:
		status = device.DisplayStatusDecodingDisplay
	}
	size := 0
	for i := 0; i < d.conf.PlaneCount; i++ {
		size += d.conf.PlaneSize[i]
	}
	d.out.push(d.frameBuffer(p.frame, p.typ, status, size), p.tag)
}

// flushDPB 按显示顺序输出全部已解码图像
func (d *Decoder) flushDPB(markLast bool) {
	for len(d.dpb) > 0 {
		d.display(d.minPoc(), false, markLast && len(d.dpb) == 1)
	}
}

func (d *Decoder) frameBuffer(f *frame, typ device.FrameType, status device.DisplayStatus, size int) *device.Buffer {
	buf := &device.Buffer{
		FrameType:     typ,
		DisplayStatus: status,
		Interlaced:    d.conf.Interlaced,
		Private:       f.private,
	}
	buf.PlaneCount = len(f.planes)
	if buf.PlaneCount > len(buf.Planes) {
		buf.PlaneCount = len(buf.Planes)
	}
	for i := 0; i < buf.PlaneCount; i++ {
		buf.Planes[i] = f.planes[i]
		buf.Planes[i].DataSize = 0
		if size > 0 && i < d.conf.PlaneCount {
			buf.Planes[i].DataSize = d.conf.PlaneSize[i]
		}
	}
	return buf
}

// fill 亮度填充 POC 相关的值，色度填充 128
func fill(f *frame, poc int) {
	for i, pl := range f.planes {
		v := byte(128)
		if i == 0 {
			v = byte(16 + poc%200)
		}
		b := pl.Addr
		if pl.AllocSize < len(b) {
			b = b[:pl.AllocSize]
		}
		for j := range b {
			b[j] = v
		}
	}
}
