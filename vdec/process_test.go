// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"testing"

	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillInputSlot(c *Component, ts int64, flags uint32, n int) *omx.BufferHeader {
	slot := c.Port(omx.InputPortIndex).Slot(InputWay)
	hdr := &omx.BufferHeader{Buffer: make([]byte, 64), FilledLen: uint32(n), Timestamp: ts, Flags: flags}
	slot.Header = hdr
	slot.AllocSize = len(hdr.Buffer)
	slot.DataLen = n
	slot.RemainDataLen = n
	slot.Timestamp = ts
	slot.Flags = flags
	slot.Valid = true
	return hdr
}

func TestComponent_StartTimestampCheck(t *testing.T) {
	cl := newClient(t)
	c := cl.c
	c.resetStartCheck(true)

	// 还没有输入，全部丢弃
	assert.True(t, c.checkStartTimestamp(&Data{Timestamp: 5}))

	// 配置数据不设置起始时间戳
	var d Data
	fillInputSlot(c, 1000, omx.BufferFlagCodecConfig|omx.BufferFlagEndOfFrame, 16)
	require.True(t, c.preprocessInput(&d))
	assert.True(t, c.NeedSetStartTimestamp())
	assert.False(t, c.NeedCheckStartTimestamp())

	hdr := fillInputSlot(c, 3000, omx.BufferFlagEndOfFrame, 16)
	d.Reset()
	require.True(t, c.preprocessInput(&d))
	assert.False(t, c.Port(omx.InputPortIndex).Slot(InputWay).Valid)
	assert.Same(t, hdr, d.Header)
	assert.Equal(t, int64(3000), d.Timestamp)
	assert.Equal(t, 16, d.DataLen)
	assert.False(t, c.NeedSetStartTimestamp())
	assert.True(t, c.NeedCheckStartTimestamp())

	tests := []struct {
		name  string
		ts    int64
		flags uint32
		drop  bool
	}{
		{"earlier", 2000, omx.BufferFlagEndOfFrame, true},
		{"same ts other flags", 3000, omx.BufferFlagEndOfFrame | omx.BufferFlagDecodeOnly, true},
		{"eos passes", 0, omx.BufferFlagEOS, false},
		{"same ts sync frame", 3000, omx.BufferFlagEndOfFrame | omx.BufferFlagSyncFrame, false},
		{"check cleared", 1000, omx.BufferFlagEndOfFrame, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.drop, c.checkStartTimestamp(&Data{Timestamp: tt.ts, Flags: tt.flags}))
		})
	}
	assert.False(t, c.NeedCheckStartTimestamp())
}

func TestComponent_StartTimestampLater(t *testing.T) {
	cl := newClient(t)
	c := cl.c
	c.resetStartCheck(true)

	var d Data
	fillInputSlot(c, 3000, omx.BufferFlagEndOfFrame, 16)
	require.True(t, c.preprocessInput(&d))

	// 起始帧被跳过时，第一个更晚的图像通过检查
	assert.True(t, c.checkStartTimestamp(&Data{Timestamp: 1000, Flags: omx.BufferFlagEndOfFrame}))
	assert.False(t, c.checkStartTimestamp(&Data{Timestamp: 4000, Flags: omx.BufferFlagEndOfFrame}))
	assert.False(t, c.NeedCheckStartTimestamp())
}

func TestComponent_StartTimestampSyncInput(t *testing.T) {
	cl := newClient(t)
	c := cl.c
	c.resetStartCheck(true)

	// 输入携带同步帧标志，输出图像同样标记为同步帧
	var d Data
	fillInputSlot(c, 0, omx.BufferFlagEndOfFrame|omx.BufferFlagSyncFrame, 16)
	require.True(t, c.preprocessInput(&d))
	assert.False(t, c.checkStartTimestamp(&Data{Timestamp: 0, Flags: omx.BufferFlagEndOfFrame | omx.BufferFlagSyncFrame}))
	assert.False(t, c.NeedCheckStartTimestamp())

	c.resetStartCheck(true)
	d.Reset()
	fillInputSlot(c, 0, omx.BufferFlagEndOfFrame|omx.BufferFlagSyncFrame, 16)
	require.True(t, c.preprocessInput(&d))
	assert.False(t, c.checkStartTimestamp(&Data{Timestamp: 0, Flags: omx.BufferFlagEndOfFrame}))
}

func TestComponent_PreprocessEOS(t *testing.T) {
	cl := newClient(t)
	c := cl.c

	var d Data
	assert.False(t, c.preprocessInput(&d), "empty slot")

	fillInputSlot(c, 1000, omx.BufferFlagEOS, 0)
	require.True(t, c.preprocessInput(&d))
	assert.False(t, c.BehaviorEOS.Get())

	d.Reset()
	fillInputSlot(c, 2000, omx.BufferFlagEOS|omx.BufferFlagEndOfFrame, 8)
	require.True(t, c.preprocessInput(&d))
	assert.True(t, c.BehaviorEOS.Get())
}

func TestComponent_PreprocessCopy(t *testing.T) {
	cl := newClient(t, InputMode(ModeCopy))
	c := cl.c

	cb := &CodecBuffer{}
	cb.Planes[0].Addr = make([]byte, 32)
	cb.Planes[0].AllocSize = 32
	var d Data
	codecBufferToData(cb, &d, omx.InputPortIndex)

	hdr := fillInputSlot(c, 1000, omx.BufferFlagEndOfFrame, 4)
	copy(hdr.Buffer, []byte{0, 0, 1, 0x65})
	require.True(t, c.preprocessInput(&d))
	assert.Equal(t, []byte{0, 0, 1, 0x65}, d.Planes[0].Addr[:d.DataLen])
	assert.Equal(t, int64(1000), d.Timestamp)
	assert.Same(t, cb, d.CodecBuffer())
	// 复制后框架缓冲立即失效
	assert.False(t, c.Port(omx.InputPortIndex).Slot(InputWay).Valid)
	assert.Zero(t, hdr.FilledLen)
}
