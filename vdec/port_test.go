// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"testing"

	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
)

func TestPort_BufferQueue(t *testing.T) {
	p := newPort(omx.InputPortIndex, ModeShare)
	assert.Nil(t, p.popBuffer())

	a, b := &omx.BufferHeader{Timestamp: 1}, &omx.BufferHeader{Timestamp: 2}
	p.pushBuffer(a)
	p.pushBuffer(b)
	assert.Equal(t, 2, p.bufferLen())
	assert.Same(t, a, p.popBuffer())
	assert.Same(t, b, p.popBuffer())
	assert.Nil(t, p.popBuffer())

	p.pushBuffer(a)
	p.resetBufferQ()
	assert.Zero(t, p.bufferLen())
	assert.Nil(t, p.popBuffer())
}
