// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/cnotch/vdec/utils/bits"
)

// ErrNotEnough 数据不足
var ErrNotEnough = errors.New("the data is not enough")

// VUI 视频可用性信息中解码器使用的部分
type VUI struct {
	AspectRatioIdc uint8
	SarWidth       uint16
	SarHeight      uint16

	// 和帧率相关
	TimingInfoPresentFlag uint8
	NumUnitsInTick        uint32
	TimeScale             uint32
	FixedFrameRateFlag    uint8

	NalHrdParametersPresentFlag uint8
	VclHrdParametersPresentFlag uint8

	// 显示重排需要的帧数
	BitstreamRestrictionFlag uint8
	MaxNumReorderFrames      uint8
	MaxDecFrameBuffering     uint8
}

// SPS 序列参数集
type SPS struct {
	ProfileIdc         uint8
	ConstraintSetFlags uint8
	LevelIdc           uint8
	SeqParameterSetID  uint8

	ChromaFormatIdc         uint8
	SeparateColourPlaneFlag uint8
	BitDepthLumaMinus8      uint8
	BitDepthChromaMinus8    uint8

	// MaxFrameNum = 2^(Log2MaxFrameNumMinus4+4)
	Log2MaxFrameNumMinus4 uint8
	// 图像显示顺序(POC)的编码方法
	PicOrderCntType             uint8
	Log2MaxPicOrderCntLsbMinus4 uint8
	DeltaPicOrderAlwaysZeroFlag uint8

	// 参考帧队列的最大长度，最大 16
	MaxNumRefFrames           uint8
	GapsInFrameNumAllowedFlag uint8

	PicWidthInMbsMinus1       uint16
	PicHeightInMapUnitsMinus1 uint16

	FrameMbsOnlyFlag         uint8
	MbAdaptiveFrameFieldFlag uint8
	Direct8x8InferenceFlag   uint8

	FrameCroppingFlag     uint8
	FrameCropLeftOffset   uint16
	FrameCropRightOffset  uint16
	FrameCropTopOffset    uint16
	FrameCropBottomOffset uint16

	VuiParametersPresentFlag uint8
	Vui                      VUI
}

// MbWidth 宽度（宏块）
func (sps *SPS) MbWidth() int {
	return int(sps.PicWidthInMbsMinus1) + 1
}

// MbHeight 帧高度（宏块），场编码时是两个场的宏块行数
func (sps *SPS) MbHeight() int {
	return (2 - int(sps.FrameMbsOnlyFlag)) * (int(sps.PicHeightInMapUnitsMinus1) + 1)
}

// cropUnit 裁剪偏移的单位，7.4.2.1.1
func (sps *SPS) cropUnit() (x, y int) {
	x, y = 1, 2-int(sps.FrameMbsOnlyFlag)
	if sps.ChromaFormatIdc != 0 && sps.SeparateColourPlaneFlag == 0 {
		if sps.ChromaFormatIdc == 1 || sps.ChromaFormatIdc == 2 {
			x = 2
		}
		if sps.ChromaFormatIdc == 1 {
			y *= 2
		}
	}
	return
}

// Crop 显示区域：左、上偏移和宽、高（像素）
func (sps *SPS) Crop() (left, top, width, height int) {
	cx, cy := sps.cropUnit()
	left = int(sps.FrameCropLeftOffset) * cx
	top = int(sps.FrameCropTopOffset) * cy
	width = sps.MbWidth()*16 - left - int(sps.FrameCropRightOffset)*cx
	height = sps.MbHeight()*16 - top - int(sps.FrameCropBottomOffset)*cy
	return
}

// Width 视频宽度（像素）
func (sps *SPS) Width() int {
	_, _, w, _ := sps.Crop()
	return w
}

// Height 视频高度（像素）
func (sps *SPS) Height() int {
	_, _, _, h := sps.Crop()
	return h
}

// Interlaced 是否场编码
func (sps *SPS) Interlaced() bool {
	return sps.FrameMbsOnlyFlag == 0
}

// MaxFrameNum frame_num 的模
func (sps *SPS) MaxFrameNum() int {
	return 1 << (uint(sps.Log2MaxFrameNumMinus4) + 4)
}

// MaxPicOrderCntLsb pic_order_cnt_lsb 的模
func (sps *SPS) MaxPicOrderCntLsb() int {
	return 1 << (uint(sps.Log2MaxPicOrderCntLsbMinus4) + 4)
}

// ReorderDepth 输出前需要缓存的图像数
func (sps *SPS) ReorderDepth() int {
	if sps.PicOrderCntType == 2 {
		return 0
	}
	if sps.Vui.BitstreamRestrictionFlag == 1 {
		return int(sps.Vui.MaxNumReorderFrames)
	}
	return int(sps.MaxNumRefFrames)
}

// FrameRate Video frame rate
func (sps *SPS) FrameRate() float64 {
	if sps.Vui.NumUnitsInTick == 0 {
		return 0.0
	}
	return float64(sps.Vui.TimeScale) / float64(sps.Vui.NumUnitsInTick*2)
}

// DecodeString 从 base64 字串解码 sps NAL
func (sps *SPS) DecodeString(b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return err
	}
	return sps.Decode(data)
}

func highProfile(profile uint8) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// Decode 从字节序列中解码 sps NAL
func (sps *SPS) Decode(data []byte) (err error) {
	rbsp := RemoveEmulationBytes(data)
	if len(rbsp) < 4 {
		return ErrNotEnough
	}
	if !IsSps(rbsp[0]) {
		return errors.New("not is sps NAL UNIT")
	}

	*sps = SPS{}
	r := bits.NewReader(rbsp[1:])
	sps.ProfileIdc = r.ReadUint8(8)
	sps.ConstraintSetFlags = r.ReadUint8(8)
	sps.LevelIdc = r.ReadUint8(8)
	sps.SeqParameterSetID = r.ReadUe8()
	if sps.SeqParameterSetID >= MaxSpsCount {
		return fmt.Errorf("invalid seq_parameter_set_id %d", sps.SeqParameterSetID)
	}

	sps.ChromaFormatIdc = 1
	if highProfile(sps.ProfileIdc) {
		sps.ChromaFormatIdc = r.ReadUe8()
		if sps.ChromaFormatIdc == 3 {
			sps.SeparateColourPlaneFlag = r.ReadBit()
		}
		sps.BitDepthLumaMinus8 = r.ReadUe8()
		sps.BitDepthChromaMinus8 = r.ReadUe8()
		r.ReadBit() // qpprime_y_zero_transform_bypass_flag
		if r.ReadBit() == 1 { // seq_scaling_matrix_present_flag
			n := 8
			if sps.ChromaFormatIdc == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				if r.ReadBit() == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	sps.Log2MaxFrameNumMinus4 = r.ReadUe8()
	sps.PicOrderCntType = r.ReadUe8()
	switch sps.PicOrderCntType {
	case 0:
		sps.Log2MaxPicOrderCntLsbMinus4 = r.ReadUe8()
	case 1:
		sps.DeltaPicOrderAlwaysZeroFlag = r.ReadBit()
		r.ReadSe() // offset_for_non_ref_pic
		r.ReadSe() // offset_for_top_to_bottom_field
		n := r.ReadUe()
		if n > 255 {
			return fmt.Errorf("invalid num_ref_frames_in_pic_order_cnt_cycle %d", n)
		}
		for i := uint32(0); i < n; i++ {
			r.ReadSe()
		}
	case 2:
	default:
		return fmt.Errorf("invalid pic_order_cnt_type %d", sps.PicOrderCntType)
	}

	sps.MaxNumRefFrames = r.ReadUe8()
	sps.GapsInFrameNumAllowedFlag = r.ReadBit()
	sps.PicWidthInMbsMinus1 = r.ReadUe16()
	sps.PicHeightInMapUnitsMinus1 = r.ReadUe16()
	if sps.PicWidthInMbsMinus1 >= MaxMbWidth || sps.PicHeightInMapUnitsMinus1 >= MaxMbHeight {
		return fmt.Errorf("picture too large: %dx%d mbs",
			sps.PicWidthInMbsMinus1+1, sps.PicHeightInMapUnitsMinus1+1)
	}
	sps.FrameMbsOnlyFlag = r.ReadBit()
	if sps.FrameMbsOnlyFlag == 0 {
		sps.MbAdaptiveFrameFieldFlag = r.ReadBit()
	}
	sps.Direct8x8InferenceFlag = r.ReadBit()

	sps.FrameCroppingFlag = r.ReadBit()
	if sps.FrameCroppingFlag == 1 {
		sps.FrameCropLeftOffset = r.ReadUe16()
		sps.FrameCropRightOffset = r.ReadUe16()
		sps.FrameCropTopOffset = r.ReadUe16()
		sps.FrameCropBottomOffset = r.ReadUe16()
	}

	sps.VuiParametersPresentFlag = r.ReadBit()
	if sps.VuiParametersPresentFlag == 1 {
		if err = sps.Vui.decode(r); err != nil {
			return
		}
	}
	return r.Err()
}

func skipScalingList(r *bits.Reader, size int) {
	last, next := 8, 8
	for i := 0; i < size && next != 0; i++ {
		delta := r.ReadSe()
		next = (last + int(delta) + 256) % 256
		if next != 0 {
			last = next
		}
	}
}

func (vui *VUI) decode(r *bits.Reader) error {
	if r.ReadBit() == 1 { // aspect_ratio_info_present_flag
		vui.AspectRatioIdc = r.ReadUint8(8)
		if vui.AspectRatioIdc == 255 {
			vui.SarWidth = r.ReadUint16(16)
			vui.SarHeight = r.ReadUint16(16)
		}
	}
	if r.ReadBit() == 1 { // overscan_info_present_flag
		r.ReadBit()
	}
	if r.ReadBit() == 1 { // video_signal_type_present_flag
		r.Skip(4)
		if r.ReadBit() == 1 { // colour_description_present_flag
			r.Skip(24)
		}
	}
	if r.ReadBit() == 1 { // chroma_loc_info_present_flag
		r.ReadUe()
		r.ReadUe()
	}

	vui.TimingInfoPresentFlag = r.ReadBit()
	if vui.TimingInfoPresentFlag == 1 {
		vui.NumUnitsInTick = r.ReadUint32(32)
		vui.TimeScale = r.ReadUint32(32)
		vui.FixedFrameRateFlag = r.ReadBit()
	}

	vui.NalHrdParametersPresentFlag = r.ReadBit()
	if vui.NalHrdParametersPresentFlag == 1 {
		if err := skipHrd(r); err != nil {
			return err
		}
	}
	vui.VclHrdParametersPresentFlag = r.ReadBit()
	if vui.VclHrdParametersPresentFlag == 1 {
		if err := skipHrd(r); err != nil {
			return err
		}
	}
	if vui.NalHrdParametersPresentFlag == 1 || vui.VclHrdParametersPresentFlag == 1 {
		r.ReadBit() // low_delay_hrd_flag
	}
	r.ReadBit() // pic_struct_present_flag

	// 部分码流在这里提前结束
	if r.BitsLeft() < 1 {
		return nil
	}
	vui.BitstreamRestrictionFlag = r.ReadBit()
	if vui.BitstreamRestrictionFlag == 1 {
		r.ReadBit() // motion_vectors_over_pic_boundaries_flag
		r.ReadUe()  // max_bytes_per_pic_denom
		r.ReadUe()  // max_bits_per_mb_denom
		r.ReadUe()  // log2_max_mv_length_horizontal
		r.ReadUe()  // log2_max_mv_length_vertical
		vui.MaxNumReorderFrames = r.ReadUe8()
		vui.MaxDecFrameBuffering = r.ReadUe8()
	}
	return nil
}

func skipHrd(r *bits.Reader) error {
	cnt := r.ReadUe() + 1
	if cnt > MaxCpbCnt {
		return fmt.Errorf("invalid cpb_cnt_minus1 %d", cnt-1)
	}
	r.Skip(8) // bit_rate_scale, cpb_size_scale
	for i := uint32(0); i < cnt; i++ {
		r.ReadUe()
		r.ReadUe()
		r.ReadBit()
	}
	r.Skip(20)
	return nil
}

// Encode 编码成不含起始码的 sps NAL，不写入缩放矩阵和 HRD 参数
func (sps *SPS) Encode() []byte {
	w := bits.NewWriter()
	w.WriteUint(0x67, 8) // nal_ref_idc = 3
	w.WriteUint(uint64(sps.ProfileIdc), 8)
	w.WriteUint(uint64(sps.ConstraintSetFlags), 8)
	w.WriteUint(uint64(sps.LevelIdc), 8)
	w.WriteUe(uint32(sps.SeqParameterSetID))
	if highProfile(sps.ProfileIdc) {
		w.WriteUe(uint32(sps.ChromaFormatIdc))
		if sps.ChromaFormatIdc == 3 {
			w.WriteBit(sps.SeparateColourPlaneFlag)
		}
		w.WriteUe(uint32(sps.BitDepthLumaMinus8))
		w.WriteUe(uint32(sps.BitDepthChromaMinus8))
		w.WriteBit(0)
		w.WriteBit(0)
	}
	w.WriteUe(uint32(sps.Log2MaxFrameNumMinus4))
	w.WriteUe(uint32(sps.PicOrderCntType))
	switch sps.PicOrderCntType {
	case 0:
		w.WriteUe(uint32(sps.Log2MaxPicOrderCntLsbMinus4))
	case 1:
		w.WriteBit(sps.DeltaPicOrderAlwaysZeroFlag)
		w.WriteSe(0)
		w.WriteSe(0)
		w.WriteUe(0)
	}
	w.WriteUe(uint32(sps.MaxNumRefFrames))
	w.WriteBit(sps.GapsInFrameNumAllowedFlag)
	w.WriteUe(uint32(sps.PicWidthInMbsMinus1))
	w.WriteUe(uint32(sps.PicHeightInMapUnitsMinus1))
	w.WriteBit(sps.FrameMbsOnlyFlag)
	if sps.FrameMbsOnlyFlag == 0 {
		w.WriteBit(sps.MbAdaptiveFrameFieldFlag)
	}
	w.WriteBit(sps.Direct8x8InferenceFlag)
	w.WriteBit(sps.FrameCroppingFlag)
	if sps.FrameCroppingFlag == 1 {
		w.WriteUe(uint32(sps.FrameCropLeftOffset))
		w.WriteUe(uint32(sps.FrameCropRightOffset))
		w.WriteUe(uint32(sps.FrameCropTopOffset))
		w.WriteUe(uint32(sps.FrameCropBottomOffset))
	}
	w.WriteBit(sps.VuiParametersPresentFlag)
	if sps.VuiParametersPresentFlag == 1 {
		vui := &sps.Vui
		w.WriteBit(0) // aspect_ratio_info_present_flag
		w.WriteBit(0) // overscan_info_present_flag
		w.WriteBit(0) // video_signal_type_present_flag
		w.WriteBit(0) // chroma_loc_info_present_flag
		w.WriteBit(vui.TimingInfoPresentFlag)
		if vui.TimingInfoPresentFlag == 1 {
			w.WriteUint(uint64(vui.NumUnitsInTick), 32)
			w.WriteUint(uint64(vui.TimeScale), 32)
			w.WriteBit(vui.FixedFrameRateFlag)
		}
		w.WriteBit(0) // nal_hrd_parameters_present_flag
		w.WriteBit(0) // vcl_hrd_parameters_present_flag
		w.WriteBit(0) // pic_struct_present_flag
		w.WriteBit(vui.BitstreamRestrictionFlag)
		if vui.BitstreamRestrictionFlag == 1 {
			w.WriteBit(1)
			w.WriteUe(2)
			w.WriteUe(1)
			w.WriteUe(16)
			w.WriteUe(16)
			w.WriteUe(uint32(vui.MaxNumReorderFrames))
			w.WriteUe(uint32(vui.MaxDecFrameBuffering))
		}
	}
	w.WriteTrailingBits()
	return AddEmulationBytes(w.Bytes())
}

// EncodePPS 生成引用 spsID 的最简图像参数集(CAVLC，无片组)
func EncodePPS(ppsID, spsID uint8) []byte {
	w := bits.NewWriter()
	w.WriteUint(0x68, 8)
	w.WriteUe(uint32(ppsID))
	w.WriteUe(uint32(spsID))
	w.WriteBit(0) // entropy_coding_mode_flag
	w.WriteBit(0) // bottom_field_pic_order_in_frame_present_flag
	w.WriteUe(0)  // num_slice_groups_minus1
	w.WriteUe(0)  // num_ref_idx_l0_default_active_minus1
	w.WriteUe(0)  // num_ref_idx_l1_default_active_minus1
	w.WriteBit(0) // weighted_pred_flag
	w.WriteUint(0, 2)
	w.WriteSe(0)  // pic_init_qp_minus26
	w.WriteSe(0)  // pic_init_qs_minus26
	w.WriteSe(0)  // chroma_qp_index_offset
	w.WriteBit(1) // deblocking_filter_control_present_flag
	w.WriteBit(0) // constrained_intra_pred_flag
	w.WriteBit(0) // redundant_pic_cnt_present_flag
	w.WriteTrailingBits()
	return AddEmulationBytes(w.Bytes())
}
