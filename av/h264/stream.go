// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import "fmt"

// AccessUnit 一个图像的 Annex-B 码流
type AccessUnit struct {
	Data    []byte
	Type    SliceType
	IDR     bool
	Display int // GOP 内的显示序号
}

// StreamWriter 生成只有参数集和片头的 H.264 码流
type StreamWriter struct {
	SPS SPS

	prevRefFrameNum uint32
	idrPicID        uint32
}

// NewStreamWriter 创建指定分辨率的码流生成器，reorder 是最多需要重排的图像数
func NewStreamWriter(width, height, refFrames, reorder int) (*StreamWriter, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid picture size %dx%d", width, height)
	}
	if refFrames < 1 || refFrames > MaxDpbFrames || reorder < 0 || reorder > refFrames {
		return nil, fmt.Errorf("invalid ref frames %d or reorder %d", refFrames, reorder)
	}

	mbw, mbh := (width+15)/16, (height+15)/16
	if mbw > MaxMbWidth || mbh > MaxMbHeight {
		return nil, fmt.Errorf("picture too large: %dx%d", width, height)
	}
	sps := SPS{
		ProfileIdc:                  77,
		LevelIdc:                    40,
		ChromaFormatIdc:             1,
		Log2MaxFrameNumMinus4:       4,
		Log2MaxPicOrderCntLsbMinus4: 4,
		MaxNumRefFrames:             uint8(refFrames),
		PicWidthInMbsMinus1:         uint16(mbw - 1),
		PicHeightInMapUnitsMinus1:   uint16(mbh - 1),
		FrameMbsOnlyFlag:            1,
		Direct8x8InferenceFlag:      1,
		VuiParametersPresentFlag:    1,
	}
	if mbw*16 != width || mbh*16 != height {
		sps.FrameCroppingFlag = 1
		sps.FrameCropRightOffset = uint16((mbw*16 - width) / 2)
		sps.FrameCropBottomOffset = uint16((mbh*16 - height) / 2)
	}
	sps.Vui.BitstreamRestrictionFlag = 1
	sps.Vui.MaxNumReorderFrames = uint8(reorder)
	sps.Vui.MaxDecFrameBuffering = uint8(refFrames)
	return &StreamWriter{SPS: sps}, nil
}

// Headers 序列参数集和图像参数集
func (w *StreamWriter) Headers() []byte {
	var b []byte
	b = AppendNalu(b, w.SPS.Encode())
	return AppendNalu(b, EncodePPS(0, w.SPS.SeqParameterSetID))
}

// GOP 按显示顺序的图像类型(I/P/B)生成一组图像，返回解码顺序的码流。
// 第一个 I 图像是带参数集的 IDR，末尾的 B 图像按 P 图像编码。
func (w *StreamWriter) GOP(pattern string) ([]AccessUnit, error) {
	types := make([]SliceType, len(pattern))
	for i, c := range pattern {
		switch c {
		case 'I':
			types[i] = SliceI
		case 'P':
			types[i] = SliceP
		case 'B':
			types[i] = SliceB
		default:
			return nil, fmt.Errorf("unknown picture type %q", c)
		}
	}
	if len(types) == 0 || types[0] != SliceI {
		return nil, fmt.Errorf("gop must start with I: %q", pattern)
	}
	for i := len(types) - 1; i > 0 && types[i] == SliceB; i-- {
		types[i] = SliceP
	}
	if n := w.SPS.MaxPicOrderCntLsb() / 2; len(types) > n {
		return nil, fmt.Errorf("gop too long: %d > %d", len(types), n)
	}

	aus := make([]AccessUnit, 0, len(types))
	last := 0
	for i, t := range types {
		if t == SliceB {
			continue
		}
		aus = append(aus, w.picture(t, i))
		for j := last + 1; j < i; j++ {
			aus = append(aus, w.picture(types[j], j))
		}
		last = i
	}
	return aus, nil
}

func (w *StreamWriter) picture(t SliceType, display int) AccessUnit {
	sps := &w.SPS
	h := SliceHeader{
		NalRefIdc:      1,
		NalUnitType:    NalSlice,
		SliceType:      t,
		PicOrderCntLsb: uint32(display*2) % uint32(sps.MaxPicOrderCntLsb()),
	}
	au := AccessUnit{Type: t, Display: display}
	if display == 0 {
		h.NalRefIdc = 3
		h.NalUnitType = NalIdrSlice
		h.IdrPicID = w.idrPicID
		w.idrPicID = (w.idrPicID + 1) & 0xffff
		w.prevRefFrameNum = 0
		au.IDR = true
		au.Data = w.Headers()
	} else {
		h.FrameNum = (w.prevRefFrameNum + 1) % uint32(sps.MaxFrameNum())
		if t == SliceB {
			h.NalRefIdc = 0
		} else {
			w.prevRefFrameNum = h.FrameNum
		}
	}
	au.Data = AppendNalu(au.Data, h.Encode(sps))
	return au
}
