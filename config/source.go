// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
)

// SourceConfig 码流来源配置
type SourceConfig struct {
	File      string `json:"file,omitempty"`       // Annex-B 格式的 H.264 文件
	FPS       int    `json:"fps"`                  // 文件播放帧率
	Loop      bool   `json:"loop"`                 // 文件循环播放
	RtpListen string `json:"rtp_listen,omitempty"` // RTP over TCP 接入地址
	SDP       string `json:"sdp,omitempty"`        // 描述 RTP 流的 SDP 文件
}

func (c *SourceConfig) initFlags() {
	flag.StringVar(&c.File, "src-file", "", "Set the Annex-B H.264 file to decode")
	flag.IntVar(&c.FPS, "src-fps", 25, "Set the frame rate of file source")
	flag.BoolVar(&c.Loop, "src-loop", false, "Determines if file source loops")
	flag.StringVar(&c.RtpListen, "src-rtp", "",
		"Set the listen address of interleaved RTP over TCP ingest")
	flag.StringVar(&c.SDP, "src-sdp", "", "Set the SDP file describing the RTP stream")
}
