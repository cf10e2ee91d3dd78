// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitNalus(t *testing.T) {
	data := []byte{
		0, 0, 0, 1, 0x67, 1, 2,
		0, 0, 1, 0x68, 3,
		0, 0, 0, 1, 0x65, 4, 5, 6,
	}
	nalus := SplitNalus(data)
	require.Len(t, nalus, 3)
	assert.Equal(t, []byte{0x67, 1, 2}, nalus[0])
	assert.Equal(t, []byte{0x68, 3}, nalus[1])
	assert.Equal(t, []byte{0x65, 4, 5, 6}, nalus[2])

	assert.Empty(t, SplitNalus([]byte{1, 2, 3, 4}))
}

func TestEmulationBytes(t *testing.T) {
	rbsp := []byte{0x65, 0, 0, 0, 0, 0, 1, 0, 0, 3, 0x80}
	nalu := AddEmulationBytes(rbsp)
	assert.False(t, bytes.Contains(nalu, []byte{0, 0, 1}))
	assert.False(t, bytes.Contains(nalu, []byte{0, 0, 0}))
	assert.Equal(t, rbsp, RemoveEmulationBytes(nalu))
	assert.Equal(t, rbsp, RemoveEmulationBytes(append([]byte{0, 0, 0, 1}, nalu...)))
}

func TestSliceHeader(t *testing.T) {
	w, err := NewStreamWriter(176, 144, 2, 1)
	require.NoError(t, err)

	want := SliceHeader{
		NalRefIdc:      3,
		NalUnitType:    NalIdrSlice,
		SliceType:      SliceI,
		IdrPicID:       7,
		PicOrderCntLsb: 10,
	}
	var got SliceHeader
	require.NoError(t, got.Decode(want.Encode(&w.SPS), &w.SPS))
	assert.Equal(t, want, got)
	assert.True(t, got.IDR())
	assert.True(t, got.Reference())

	want = SliceHeader{
		NalUnitType:    NalSlice,
		SliceType:      SliceB,
		FrameNum:       3,
		PicOrderCntLsb: 255,
	}
	require.NoError(t, got.Decode(want.Encode(&w.SPS), &w.SPS))
	assert.Equal(t, want, got)
	assert.False(t, got.Reference())

	assert.Error(t, got.Decode([]byte{0x67, 0x42, 0, 0x1e}, &w.SPS))
	assert.Error(t, got.Decode(want.Encode(&w.SPS), nil))
}

func TestStreamWriter_GOP(t *testing.T) {
	w, err := NewStreamWriter(320, 240, 3, 2)
	require.NoError(t, err)

	aus, err := w.GOP("IBBPBBPB")
	require.NoError(t, err)
	require.Len(t, aus, 8)

	// 解码顺序
	var display []int
	for _, au := range aus {
		display = append(display, au.Display)
	}
	assert.Equal(t, []int{0, 3, 1, 2, 6, 4, 5, 7}, display)
	assert.True(t, aus[0].IDR)
	assert.Equal(t, SliceP, aus[7].Type)

	nalus := SplitNalus(aus[0].Data)
	require.Len(t, nalus, 3)
	assert.True(t, IsSps(nalus[0][0]))
	assert.True(t, IsPps(nalus[1][0]))
	assert.True(t, IsIdrSlice(nalus[2][0]))

	var sps SPS
	require.NoError(t, sps.Decode(nalus[0]))
	assert.Equal(t, 320, sps.Width())
	assert.Equal(t, 240, sps.Height())

	var frameNums []uint32
	for _, au := range aus {
		nalus := SplitNalus(au.Data)
		var h SliceHeader
		require.NoError(t, h.Decode(nalus[len(nalus)-1], &sps))
		assert.Equal(t, uint32(au.Display*2), h.PicOrderCntLsb)
		assert.Equal(t, au.Type, h.SliceType)
		frameNums = append(frameNums, h.FrameNum)
	}
	assert.Equal(t, []uint32{0, 1, 2, 2, 2, 3, 3, 3}, frameNums)

	_, err = w.GOP("PBB")
	assert.Error(t, err)
	_, err = w.GOP("IXP")
	assert.Error(t, err)
}
