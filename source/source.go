// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package source 提供解码组件的 H.264 码流来源：Annex-B 文件和 RTP over TCP 接入。
package source

import (
	"context"
	"errors"

	"github.com/cnotch/vdec/omx"
)

// 错误定义
var (
	// ErrClosed 来源已关闭
	ErrClosed = errors.New("source is closed")
	// ErrNoVideo 没有可解码的视频
	ErrNoVideo = errors.New("no h264 video found")
)

// Frame 一个访问单元，Annex-B 格式，带起始码
type Frame struct {
	Data      []byte
	Timestamp int64  // 显示时间戳，微秒
	Flags     uint32 // omx.BufferFlag*
	IDR       bool
}

// Sync 是否同步帧
func (f *Frame) Sync() bool {
	return f.Flags&omx.BufferFlagSyncFrame != 0
}

// Source 码流来源。ReadFrame 在码流结束时返回 io.EOF
type Source interface {
	Name() string
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}
