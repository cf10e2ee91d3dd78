// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cnotch/vdec/av/h264"
	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gops(t *testing.T, patterns ...string) (*h264.StreamWriter, []h264.AccessUnit) {
	t.Helper()
	w, err := h264.NewStreamWriter(176, 144, 3, 2)
	require.NoError(t, err)
	var aus []h264.AccessUnit
	for _, p := range patterns {
		gop, err := w.GOP(p)
		require.NoError(t, err)
		aus = append(aus, gop...)
	}
	return w, aus
}

func annexB(aus []h264.AccessUnit) []byte {
	var data []byte
	for _, au := range aus {
		data = append(data, au.Data...)
	}
	return data
}

func TestAssembler_DisplayTimestamps(t *testing.T) {
	_, aus := gops(t, "IBBPBBP", "IBP")
	asm := Assembler{Duration: 40000}

	var frames []*Frame
	for _, nalu := range h264.SplitNalus(annexB(aus)) {
		if f := asm.Write(nalu, -1); f != nil {
			frames = append(frames, f)
		}
	}
	if f := asm.Flush(); f != nil {
		frames = append(frames, f)
	}
	require.Len(t, frames, len(aus))

	// 第二个 GOP 的显示序号接在第一个之后
	base := []int{0, 0, 0, 0, 0, 0, 0, 7, 7, 7}
	for i, f := range frames {
		assert.Equal(t, aus[i].Data, f.Data, "frame %d", i)
		assert.Equal(t, int64(base[i]+aus[i].Display)*40000, f.Timestamp, "frame %d", i)
		assert.Equal(t, aus[i].IDR, f.IDR)
		assert.Equal(t, aus[i].IDR, f.Sync())
		assert.NotZero(t, f.Flags&omx.BufferFlagEndOfFrame)
	}
}

func TestAssembler_ParameterSets(t *testing.T) {
	w, aus := gops(t, "IP")
	headers := h264.SplitNalus(w.Headers())
	require.Len(t, headers, 2)

	asm := Assembler{}
	// 没有参数集之前的图像被丢弃
	slices := h264.SplitNalus(aus[1].Data)
	assert.Nil(t, asm.Write(slices[0], 0))
	assert.Nil(t, asm.Flush())

	require.NoError(t, asm.SetParameterSets(headers[0], headers[1]))
	require.NotNil(t, asm.SPS())
	assert.Equal(t, 176, asm.SPS().Width())

	// 去掉带内参数集的 IDR 补上带外的参数集
	nalus := h264.SplitNalus(aus[0].Data)
	idr := nalus[len(nalus)-1]
	assert.Nil(t, asm.Write(idr, 1000))
	f := asm.Write(slices[0], 2000)
	require.NotNil(t, f)
	assert.Equal(t, aus[0].Data, f.Data)
	assert.Equal(t, int64(1000), f.Timestamp)
	assert.True(t, f.IDR)

	f = asm.Flush()
	require.NotNil(t, f)
	assert.Equal(t, int64(2000), f.Timestamp)
	assert.False(t, f.Sync())
	assert.Nil(t, asm.Flush())

	// 填充数据被忽略
	assert.Nil(t, asm.Write([]byte{0x0c, 0xff, 0xff}, 3000))
	assert.Nil(t, asm.Flush())
}

func TestFileSource(t *testing.T) {
	_, aus := gops(t, "IBBP", "IP")
	data := annexB(aus)

	_, err := NewFileSource("empty", []byte{0, 0, 0, 1, 0x0c, 0xff}, 25, false)
	assert.Equal(t, ErrNoVideo, err)

	s, err := NewFileSource("test", data, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, "test", s.Name())
	assert.Equal(t, 6, s.Len())

	ctx := context.Background()
	want := []int64{0, 3000, 1000, 2000, 4000, 5000}
	for i, ts := range want {
		f, err := s.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, ts, f.Timestamp, "frame %d", i)
	}
	_, err = s.ReadFrame(ctx)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, s.Close())
	_, err = s.ReadFrame(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestFileSource_Loop(t *testing.T) {
	_, aus := gops(t, "IBP")
	s, err := NewFileSource("loop", annexB(aus), 1000, true)
	require.NoError(t, err)

	ctx := context.Background()
	var got []int64
	for i := 0; i < 7; i++ {
		f, err := s.ReadFrame(ctx)
		require.NoError(t, err)
		got = append(got, f.Timestamp)
	}
	// 每轮时长 3 帧
	assert.Equal(t, []int64{0, 2000, 1000, 3000, 5000, 4000, 6000}, got)
}

func TestFileSource_Pacing(t *testing.T) {
	_, aus := gops(t, "IP")
	s, err := NewFileSource("slow", annexB(aus), 1, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.ReadFrame(ctx)
	require.NoError(t, err)
	_, err = s.ReadFrame(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}
