// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"time"

	"github.com/cnotch/vdec/device/emul"
	"github.com/cnotch/vdec/vdec"
)

// DecoderConfig 解码组件配置
type DecoderConfig struct {
	Reorder          bool            `json:"reorder"`           // 时间戳按显示顺序重排
	DTS              bool            `json:"dts"`               // 输入时间戳为解码时间戳
	Thumbnail        bool            `json:"thumbnail"`         // 缩略图模式
	Custom           bool            `json:"custom"`            // 定制组件，优先 NV12 并强制解析头
	DiscardCorrupted bool            `json:"discard_corrupted"` // 丢弃损坏的配置数据
	DisplayDelay     int             `json:"display_delay"`     // 显示延时，-1 由码流决定
	InputMode        vdec.BufferMode `json:"input_mode"`
	OutputMode       vdec.BufferMode `json:"output_mode"`
	PauseWait        int             `json:"pause_wait"` // 暂停时检查退出的间隔，单位 ms
	LastFrame        bool            `json:"last_frame"` // 引擎能标记最后一帧
	DynamicDPB       bool            `json:"dynamic_dpb"`
	Dump             string          `json:"dump,omitempty"` // 解码图像写入的文件
}

func (c *DecoderConfig) initFlags() {
	c.InputMode = vdec.ModeShare
	c.OutputMode = vdec.ModeCopy

	flag.BoolVar(&c.Reorder, "dec-reorder", false,
		"Determines if timestamps are reordered by display order")
	flag.BoolVar(&c.DTS, "dec-dts", false,
		"Determines if input timestamps are decoding timestamps")
	flag.BoolVar(&c.Thumbnail, "dec-thumbnail", false,
		"Determines if decoder runs in thumbnail mode")
	flag.BoolVar(&c.Custom, "dec-custom", false,
		"Determines if decoder runs as custom component")
	flag.BoolVar(&c.DiscardCorrupted, "dec-discard-corrupted", false,
		"Determines if corrupted codec config should be discarded")
	flag.IntVar(&c.DisplayDelay, "dec-display-delay", -1,
		"Set the display delay of decoder, -1 means decided by stream")
	flag.Var(&c.InputMode, "dec-input-mode", "Set the input buffer mode(share|copy)")
	flag.Var(&c.OutputMode, "dec-output-mode", "Set the output buffer mode(share|copy)")
	flag.IntVar(&c.PauseWait, "dec-pause-wait", 1000,
		"Set the max wait in milliseconds of paused workers")
	flag.BoolVar(&c.LastFrame, "dec-last-frame", true,
		"Determines if the engine marks the last frame")
	flag.BoolVar(&c.DynamicDPB, "dec-dynamic-dpb", false,
		"Determines if the engine supports dynamic DPB")
	flag.StringVar(&c.Dump, "dec-dump", "",
		"Set the file to write decoded pictures to, the decoder id is appended to the name")
}

// Options 转换成组件选项
func (c *DecoderConfig) Options() []vdec.Option {
	opts := []vdec.Option{
		vdec.ReorderMode(c.Reorder),
		vdec.DTSMode(c.DTS),
		vdec.Thumbnail(c.Thumbnail),
		vdec.Custom(c.Custom),
		vdec.DiscardCorruptedHeader(c.DiscardCorrupted),
		vdec.DisplayDelay(c.DisplayDelay),
	}
	if c.InputMode != 0 {
		opts = append(opts, vdec.InputMode(c.InputMode))
	}
	if c.OutputMode != 0 {
		opts = append(opts, vdec.OutputMode(c.OutputMode))
	}
	if c.PauseWait > 0 {
		opts = append(opts, vdec.PauseMaxWait(time.Duration(c.PauseWait)*time.Millisecond))
	}
	return opts
}

// EngineOptions 转换成解码引擎选项
func (c *DecoderConfig) EngineOptions() []emul.Option {
	var opts []emul.Option
	if c.LastFrame {
		opts = append(opts, emul.WithLastFrame())
	}
	if c.DynamicDPB {
		opts = append(opts, emul.WithDynamicDPB())
	}
	return opts
}
