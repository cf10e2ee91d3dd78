// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"bytes"

	"github.com/cnotch/vdec/av/h264"
	"github.com/cnotch/vdec/omx"
)

// Assembler 把 NAL 单元组合成访问单元。
// 写入的时间戳小于 0 时，按帧时长和图像顺序计数(POC)推算显示时间戳。
type Assembler struct {
	Duration int64 // 每帧时长，微秒

	sps    *h264.SPS
	rawSps []byte
	rawPps []byte

	au        []byte
	hasSlice  bool
	hasParams bool // 访问单元自带参数集
	idr       bool
	ts        int64

	// 图像顺序计数，8.2.1.1
	prevMsb int
	prevLsb int
	gopBase int64 // 当前 IDR 的显示序号
	gopMax  int64 // 已输出的最大显示序号
	decoded int64
	started bool
}

// SetParameterSets 设置带外的参数集，IDR 图像缺少参数集时补在前面
func (a *Assembler) SetParameterSets(sps, pps []byte) error {
	var s h264.SPS
	if err := s.Decode(sps); err != nil {
		return err
	}
	a.sps = &s
	a.rawSps = h264.RemoveNaluSeparator(sps)
	a.rawPps = h264.RemoveNaluSeparator(pps)
	return nil
}

// SPS 当前的序列参数集
func (a *Assembler) SPS() *h264.SPS {
	return a.sps
}

// Write 写入一个不含起始码的 NAL，完成一个访问单元时返回它
func (a *Assembler) Write(nalu []byte, ts int64) (done *Frame) {
	if len(nalu) == 0 {
		return nil
	}

	nt := h264.NalType(nalu[0])
	switch {
	case nt == h264.NalFillerData:
		return nil
	case nt == h264.NalSps || nt == h264.NalPps || nt == h264.NalAud || nt == h264.NalSei:
		if a.hasSlice {
			done = a.complete()
		}
		a.parameterSet(nt, nalu)
	case h264.IsSlice(nt):
		if a.sps == nil {
			// 没有序列参数集之前的图像无法解码
			a.au = a.au[:0]
			return nil
		}

		var sh h264.SliceHeader
		if err := sh.Decode(nalu, a.sps); err != nil {
			return nil
		}
		if a.hasSlice && (sh.FirstMbInSlice == 0 || (ts >= 0 && ts != a.ts)) {
			done = a.complete()
		}
		if !a.hasSlice {
			a.begin(&sh, ts)
		}
	}

	a.au = h264.AppendNalu(a.au, nalu)
	return
}

// Flush 返回缓存中未完成的访问单元
func (a *Assembler) Flush() *Frame {
	if !a.hasSlice {
		a.au = a.au[:0]
		a.hasParams = false
		return nil
	}
	return a.complete()
}

func (a *Assembler) parameterSet(nt byte, nalu []byte) {
	switch nt {
	case h264.NalSps:
		var sps h264.SPS
		if err := sps.Decode(nalu); err != nil {
			return
		}
		a.sps = &sps
		a.rawSps = append(a.rawSps[:0], nalu...)
		a.hasParams = true
	case h264.NalPps:
		a.rawPps = append(a.rawPps[:0], nalu...)
	}
}

func (a *Assembler) begin(sh *h264.SliceHeader, ts int64) {
	a.hasSlice = true
	a.idr = sh.IDR()

	var display int64
	if a.sps.PicOrderCntType == 0 {
		if a.idr {
			a.prevMsb, a.prevLsb = 0, 0
			if a.started {
				a.gopBase = a.gopMax + 1
			}
		}
		maxLsb := a.sps.MaxPicOrderCntLsb()
		lsb := int(sh.PicOrderCntLsb)
		msb := a.prevMsb
		switch {
		case lsb < a.prevLsb && a.prevLsb-lsb >= maxLsb/2:
			msb += maxLsb
		case lsb > a.prevLsb && lsb-a.prevLsb > maxLsb/2:
			msb -= maxLsb
		}
		if sh.Reference() {
			a.prevMsb, a.prevLsb = msb, lsb
		}
		display = a.gopBase + int64((msb+lsb)/2)
	} else {
		display = a.decoded
	}
	a.decoded++
	a.started = true
	if display > a.gopMax {
		a.gopMax = display
	}

	if ts >= 0 {
		a.ts = ts
	} else {
		a.ts = display * a.Duration
	}
}

func (a *Assembler) complete() *Frame {
	f := &Frame{
		Timestamp: a.ts,
		Flags:     omx.BufferFlagEndOfFrame,
		IDR:       a.idr,
	}

	var data []byte
	if a.idr {
		f.Flags |= omx.BufferFlagSyncFrame
		if !a.hasParams && len(a.rawSps) > 0 && !bytes.Contains(a.au, a.rawSps) {
			data = h264.AppendNalu(data, a.rawSps)
			if len(a.rawPps) > 0 {
				data = h264.AppendNalu(data, a.rawPps)
			}
		}
	}
	f.Data = append(data, a.au...)

	a.au = a.au[:0]
	a.hasSlice = false
	a.hasParams = false
	a.idr = false
	return f
}
