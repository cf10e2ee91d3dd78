// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package omx

import (
	"fmt"
	"strings"
)

// 缓冲区标志
const (
	BufferFlagEOS         uint32 = 0x00000001 // 流结束
	BufferFlagStartTime   uint32 = 0x00000002
	BufferFlagDecodeOnly  uint32 = 0x00000004
	BufferFlagDataCorrupt uint32 = 0x00000008 // 数据损坏
	BufferFlagEndOfFrame  uint32 = 0x00000010 // 完整帧
	BufferFlagSyncFrame   uint32 = 0x00000020 // 同步帧(I帧)
	BufferFlagExtraData   uint32 = 0x00000040
	BufferFlagCodecConfig uint32 = 0x00000080 // 编解码配置数据(SPS/PPS等)
)

// 端口索引
const (
	InputPortIndex  = 0
	OutputPortIndex = 1
	AllPortIndex    = -1
	PortNum         = 2
)

// MaxBufferPlane 缓冲区最大平面数
const MaxBufferPlane = 3

// BufferHeader 框架与组件之间交换的缓冲区头
type BufferHeader struct {
	Buffer     []byte // 数据缓冲
	AllocLen   uint32 // 分配的长度
	FilledLen  uint32 // 有效数据长度
	Offset     uint32 // 有效数据的起始偏移
	Flags      uint32
	Timestamp  int64 // 微秒
	MarkTarget interface{}
	MarkData   interface{}
	AppPrivate interface{}

	InputPortIndex  int
	OutputPortIndex int
}

// Payload 返回有效数据
func (h *BufferHeader) Payload() []byte {
	end := h.Offset + h.FilledLen
	if int(end) > len(h.Buffer) {
		end = uint32(len(h.Buffer))
	}
	return h.Buffer[h.Offset:end]
}

// Mark 缓冲区标记
type Mark struct {
	Target interface{}
	Data   interface{}
}

// FlagsString 返回标志的可读描述
func FlagsString(flags uint32) string {
	names := []string{"EOS", "STARTTIME", "DECODEONLY", "DATACORRUPT",
		"ENDOFFRAME", "SYNCFRAME", "EXTRADATA", "CODECCONFIG"}
	var parts []string
	for i, name := range names {
		if flags&(1<<uint(i)) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := flags &^ 0xff; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", rest))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}
