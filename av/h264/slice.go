// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"errors"
	"fmt"

	"github.com/cnotch/vdec/utils/bits"
)

// SliceHeader 片头中确定图像顺序的部分，7.3.3
type SliceHeader struct {
	NalRefIdc   uint8
	NalUnitType uint8

	FirstMbInSlice    uint32
	SliceType         SliceType
	PicParameterSetID uint8
	FrameNum          uint32
	FieldPicFlag      uint8
	BottomFieldFlag   uint8
	IdrPicID          uint32
	PicOrderCntLsb    uint32
}

// IDR 是否 IDR 图像
func (h *SliceHeader) IDR() bool {
	return h.NalUnitType == NalIdrSlice
}

// Reference 是否参考图像
func (h *SliceHeader) Reference() bool {
	return h.NalRefIdc != 0
}

// Decode 用当前序列参数集解码片头
func (h *SliceHeader) Decode(data []byte, sps *SPS) (err error) {
	rbsp := RemoveEmulationBytes(data)
	if len(rbsp) < 2 {
		return ErrNotEnough
	}
	if !IsSlice(rbsp[0]) {
		return errors.New("not is slice NAL UNIT")
	}
	if sps == nil {
		return errors.New("sps is not available")
	}

	*h = SliceHeader{}
	h.NalRefIdc = (rbsp[0] >> 5) & 3
	h.NalUnitType = NalType(rbsp[0])

	r := bits.NewReader(rbsp[1:])
	h.FirstMbInSlice = r.ReadUe()
	t := r.ReadUe()
	if t > 9 {
		return fmt.Errorf("invalid slice_type %d", t)
	}
	h.SliceType = SliceType(t % 5)
	h.PicParameterSetID = r.ReadUe8()
	if sps.SeparateColourPlaneFlag == 1 {
		r.Skip(2) // colour_plane_id
	}
	h.FrameNum = r.ReadUint32(int(sps.Log2MaxFrameNumMinus4) + 4)
	if sps.FrameMbsOnlyFlag == 0 {
		h.FieldPicFlag = r.ReadBit()
		if h.FieldPicFlag == 1 {
			h.BottomFieldFlag = r.ReadBit()
		}
	}
	if h.IDR() {
		h.IdrPicID = r.ReadUe()
	}
	if sps.PicOrderCntType == 0 {
		h.PicOrderCntLsb = r.ReadUint32(int(sps.Log2MaxPicOrderCntLsbMinus4) + 4)
	}
	return r.Err()
}

// Encode 编码成不含起始码的片 NAL，只写到 pic_order_cnt_lsb，
// 之后直接是 RBSP 结束位，供测试和软件解码引擎使用
func (h *SliceHeader) Encode(sps *SPS) []byte {
	w := bits.NewWriter()
	w.WriteUint(0, 1)
	w.WriteUint(uint64(h.NalRefIdc), 2)
	w.WriteUint(uint64(h.NalUnitType), 5)
	w.WriteUe(h.FirstMbInSlice)
	w.WriteUe(uint32(h.SliceType) + 5)
	w.WriteUe(uint32(h.PicParameterSetID))
	w.WriteUint(uint64(h.FrameNum), int(sps.Log2MaxFrameNumMinus4)+4)
	if sps.FrameMbsOnlyFlag == 0 {
		w.WriteBit(h.FieldPicFlag)
		if h.FieldPicFlag == 1 {
			w.WriteBit(h.BottomFieldFlag)
		}
	}
	if h.IDR() {
		w.WriteUe(h.IdrPicID)
	}
	if sps.PicOrderCntType == 0 {
		w.WriteUint(uint64(h.PicOrderCntLsb), int(sps.Log2MaxPicOrderCntLsbMinus4)+4)
	}
	w.WriteTrailingBits()
	return AddEmulationBytes(w.Bytes())
}
