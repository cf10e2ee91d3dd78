// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package h264 解析和生成 H.264 Annex-B 码流中解码器关心的语法元素：
// 序列参数集、图像参数集和片头。
package h264

/*
 * Table 7-1 – NAL unit type codes, syntax element categories, and NAL unit type classes in
 * T-REC-H.264-201704
 */
// H264 NAL 单元类型
const (
	NalUnspecified     = 0
	NalSlice           = 1  // 不分区非IDR图像的片
	NalDpa             = 2  // 片分区A
	NalDpb             = 3  // 片分区B
	NalDpc             = 4  // 片分区C
	NalIdrSlice        = 5  // IDR图像中的片（I帧）
	NalSei             = 6  // 补充增强信息单元
	NalSps             = 7  // 序列参数集
	NalPps             = 8  // 图像参数集
	NalAud             = 9  // 分界符
	NalEndSequence     = 10 // 序列结束
	NalEndStream       = 11 // 码流结束
	NalFillerData      = 12 // 填充
	NalPrefix          = 14
	NalExtenSlice      = 20
	NalDepthExtenSlice = 21

	// NAL 在 RTP 包中的扩展
	NalStapaInRtp = 24 // 单一时间的组合包
	NalFuAInRtp   = 28 // 分片的单元

	NalTypeBitmask = 0x1F
)

// 其他常量
const (
	// 7.4.2.1.1: seq_parameter_set_id is in [0, 31].
	MaxSpsCount = 32
	// A.3: MaxDpbFrames is bounded above by 16.
	MaxDpbFrames = 16
	// E.2.2: cpb_cnt_minus1 is in [0, 31].
	MaxCpbCnt = 32

	// A.3.1, A.3.2: PicWidthInMbs and PicHeightInMbs are bounded
	// above by sqrt(139264 * 8) = 1055.5 macroblocks.
	MaxMbWidth  = 1055
	MaxMbHeight = 1055
)

// SliceType 片类型，7.4.3 Table 7-6
type SliceType uint8

// 片类型，值加 5 表示图像中所有片类型相同
const (
	SliceP SliceType = iota
	SliceB
	SliceI
	SliceSP
	SliceSI
)

var sliceTypeNames = [...]string{"P", "B", "I", "SP", "SI"}

func (t SliceType) String() string {
	if int(t%5) < len(sliceTypeNames) {
		return sliceTypeNames[t%5]
	}
	return "?"
}

// Intra 是否帧内片
func (t SliceType) Intra() bool {
	t = t % 5
	return t == SliceI || t == SliceSI
}

// NalType 取 NAL 头中的类型
func NalType(nt byte) byte {
	return nt & NalTypeBitmask
}

// IsSps .
func IsSps(nt byte) bool {
	return nt&NalTypeBitmask == NalSps
}

// IsPps .
func IsPps(nt byte) bool {
	return nt&NalTypeBitmask == NalPps
}

// IsIdrSlice .
func IsIdrSlice(nt byte) bool {
	return nt&NalTypeBitmask == NalIdrSlice
}

// IsSlice 是否包含图像数据的片
func IsSlice(nt byte) bool {
	t := nt & NalTypeBitmask
	return t == NalSlice || t == NalIdrSlice
}

// IsFillerData .
func IsFillerData(nt byte) bool {
	return nt&NalTypeBitmask == NalFillerData
}
