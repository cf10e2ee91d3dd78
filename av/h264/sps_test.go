// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPS_Decode(t *testing.T) {
	tests := []struct {
		name   string
		b64    string
		wantW  int
		wantH  int
		wantFR float64
	}{
		{
			"base64_1",
			"Z2QAH6zZQFAFuhAAAAMAEAAAAwPI8YMZYA==",
			1280,
			720,
			30,
		},
		{
			"base64_2",
			"Z3oAH7y0AoAt0IAAAAMAgAAAHkeMGVA=",
			1280,
			720,
			30,
		},
		{
			"base64_3",
			"Z2QAM6wspADwAQ+wFSAgICgAAB9IAAdTBO0LFok=",
			3840,
			2160,
			float64(60000) / float64(1001*2),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sps := &SPS{}
			require.NoError(t, sps.DecodeString(tt.b64))
			assert.Equal(t, tt.wantW, sps.Width())
			assert.Equal(t, tt.wantH, sps.Height())
			assert.Equal(t, tt.wantFR, sps.FrameRate())
		})
	}
}

func TestSPS_DecodeError(t *testing.T) {
	sps := &SPS{}
	assert.Error(t, sps.Decode([]byte{0x67, 0x42}))
	assert.Error(t, sps.Decode([]byte{0x68, 0xce, 0x3c, 0x80}))
	assert.Error(t, sps.Decode([]byte{0x67, 0x42, 0x00, 0x1e, 0xff, 0xff, 0xff, 0xff}))
}

func TestSPS_Encode(t *testing.T) {
	w, err := NewStreamWriter(1920, 1080, 4, 2)
	require.NoError(t, err)

	var sps SPS
	require.NoError(t, sps.Decode(w.SPS.Encode()))
	assert.Equal(t, w.SPS, sps)
	assert.Equal(t, 1920, sps.Width())
	assert.Equal(t, 1080, sps.Height())
	assert.Equal(t, 120, sps.MbWidth())
	assert.Equal(t, 68, sps.MbHeight())
	assert.Equal(t, 2, sps.ReorderDepth())
	assert.False(t, sps.Interlaced())

	left, top, width, height := sps.Crop()
	assert.Equal(t, []int{0, 0, 1920, 1080}, []int{left, top, width, height})
}

func TestNewStreamWriter_Invalid(t *testing.T) {
	_, err := NewStreamWriter(175, 144, 1, 0)
	assert.Error(t, err)
	_, err = NewStreamWriter(176, 144, 0, 0)
	assert.Error(t, err)
	_, err = NewStreamWriter(176, 144, 2, 3)
	assert.Error(t, err)
}
