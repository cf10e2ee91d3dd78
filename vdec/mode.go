// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"bytes"
	"errors"
	"fmt"
)

// BufferMode 端口的缓冲方式
type BufferMode int

// 缓冲方式
const (
	// ModeShare 零拷贝，框架的缓冲直接交给硬件
	ModeShare BufferMode = 1 << iota
	// ModeCopy 复制到内部的编解码缓冲
	ModeCopy
)

var errUnmarshalNilMode = errors.New("can't unmarshal a nil *BufferMode")

func (m BufferMode) String() string {
	switch m {
	case ModeShare:
		return "share"
	case ModeCopy:
		return "copy"
	case ModeShare | ModeCopy:
		return "share|copy"
	}
	return fmt.Sprintf("BufferMode(%d)", int(m))
}

// Is 是否包含 mode
func (m BufferMode) Is(mode BufferMode) bool { return m&mode != 0 }

// MarshalText 编入缓冲方式到文本
func (m BufferMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 从文本编出缓冲方式，用于 JSON 配置文件
func (m *BufferMode) UnmarshalText(text []byte) error {
	if m == nil {
		return errUnmarshalNilMode
	}
	switch string(bytes.ToLower(bytes.TrimSpace(text))) {
	case "share":
		*m = ModeShare
	case "copy":
		*m = ModeCopy
	case "share|copy", "copy|share", "both":
		*m = ModeShare | ModeCopy
	default:
		return fmt.Errorf("unrecognized BufferMode: %q", text)
	}
	return nil
}

// Set flag.Value 接口实现.
func (m *BufferMode) Set(s string) error {
	return m.UnmarshalText([]byte(s))
}

// Get flag.Getter 接口实现
func (m *BufferMode) Get() interface{} {
	return *m
}
