// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
)

// config 服务配置
type config struct {
	ListenAddr string        `json:"listen"`        // 管理服务侦听地址和端口
	Profile    bool          `json:"profile"`       // 是否启动Profile
	TLS        *TLSConfig    `json:"tls,omitempty"` // https安全端口交互
	Decoder    DecoderConfig `json:"decoder"`       // 解码组件配置
	Source     SourceConfig  `json:"source"`        // 码流来源
	Log        LogConfig     `json:"log"`           // 日志配置
}

func (c *config) initFlags() {
	// 服务的端口
	flag.StringVar(&c.ListenAddr, "listen", ":1554", "Set server listen address")
	flag.BoolVar(&c.Profile, "pprof", false,
		"Determines if profile enabled")

	c.Decoder.initFlags()
	c.Source.initFlags()
	// 初始化日志配置
	c.Log.initFlags()
}
