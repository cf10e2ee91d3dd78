// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator(t *testing.T) {
	a := NewAllocator(1024)

	b1, err := a.Alloc(512)
	require.NoError(t, err)
	b2, err := a.Alloc(512)
	require.NoError(t, err)
	assert.NotEqual(t, b1.FD, b2.FD)
	assert.Equal(t, 1024, a.Used())

	_, err = a.Alloc(1)
	assert.Equal(t, ErrNoSpace, err)

	_, err = a.Alloc(0)
	assert.Equal(t, ErrBadSize, err)

	assert.Equal(t, b2.FD, a.FD(b2.Data))
	assert.Equal(t, -1, a.FD(make([]byte, 4)))
	// 非首地址不可解析
	assert.Equal(t, -1, a.FD(b2.Data[1:]))

	got, ok := a.ByFD(b1.FD)
	require.True(t, ok)
	assert.Equal(t, b1, got)

	a.Free(b1.Data)
	assert.Equal(t, 512, a.Used())
	assert.Equal(t, 1, a.Count())
	_, ok = a.ByFD(b1.FD)
	assert.False(t, ok)

	// 重复释放无副作用
	a.Free(b1.Data)
	assert.Equal(t, 512, a.Used())
}

func TestAllocator_Unlimited(t *testing.T) {
	a := NewAllocator(0)
	for i := 0; i < 16; i++ {
		_, err := a.Alloc(1 << 20)
		require.NoError(t, err)
	}
	assert.Equal(t, 16, a.Count())
}
