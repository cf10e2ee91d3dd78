// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"io"
	"io/ioutil"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cnotch/vdec/av/h264"
	"github.com/kelindar/rate"
)

const (
	defaultFPS     = 25
	pacingInterval = 2 * time.Millisecond
)

// FileSource Annex-B 文件来源，按帧率输出访问单元。
// ReadFrame 不能并发调用。
type FileSource struct {
	name     string
	frames   []*Frame
	duration int64 // 一轮的总时长，微秒
	loop     bool
	next     int
	round    int64
	limit    *rate.Limiter
	closed   int32
}

// OpenFile 打开 Annex-B 格式的 H.264 文件
func OpenFile(path string, fps int, loop bool) (*FileSource, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFileSource(filepath.Base(path), data, fps, loop)
}

// NewFileSource 从内存中的 Annex-B 码流创建来源
func NewFileSource(name string, data []byte, fps int, loop bool) (*FileSource, error) {
	if fps <= 0 {
		fps = defaultFPS
	}

	asm := Assembler{Duration: int64(time.Second/time.Microsecond) / int64(fps)}
	var frames []*Frame
	for _, nalu := range h264.SplitNalus(data) {
		if f := asm.Write(nalu, -1); f != nil {
			frames = append(frames, f)
		}
	}
	if f := asm.Flush(); f != nil {
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, ErrNoVideo
	}

	s := &FileSource{
		name:   name,
		frames: frames,
		loop:   loop,
		limit:  rate.New(fps, time.Second),
	}
	for _, f := range frames {
		if end := f.Timestamp + asm.Duration; end > s.duration {
			s.duration = end
		}
	}
	return s, nil
}

// Name 来源名称
func (s *FileSource) Name() string {
	return s.name
}

// Len 一轮的帧数
func (s *FileSource) Len() int {
	return len(s.frames)
}

// ReadFrame 按帧率读取下一帧，文件结束且不循环时返回 io.EOF
func (s *FileSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return nil, ErrClosed
	}
	if s.next >= len(s.frames) {
		if !s.loop {
			return nil, io.EOF
		}
		s.next = 0
		s.round++
	}

	for s.limit.Limit() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pacingInterval):
		}
	}

	f := *s.frames[s.next]
	f.Timestamp += s.round * s.duration
	s.next++
	return &f, nil
}

// Close 关闭来源
func (s *FileSource) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}
