// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 0100 0110 0100 1100 0101 0110 0000 0001
var sample = []byte{0x46, 0x4c, 0x56, 0x01}

func TestReader_Uint(t *testing.T) {
	r := NewReader(sample)
	assert.Equal(t, uint8(0), r.ReadBit())
	assert.Equal(t, uint8(1), r.ReadBit())
	r.Skip(3)
	assert.True(t, r.ReadBool())
	assert.Equal(t, 6, r.Offset())

	assert.Equal(t, uint8(0x4), r.ReadUint8(3))
	assert.Equal(t, uint16(0x4c5), r.ReadUint16(11))
	assert.Equal(t, uint32(0x601), r.ReadUint32(12))
	assert.Equal(t, 0, r.BitsLeft())
	assert.NoError(t, r.Err())

	r = NewReader(sample)
	assert.Equal(t, uint64(0x464c5601), r.ReadUint64(32))
	// 超过类型宽度返回 0 且不移动
	r = NewReader(sample)
	assert.Equal(t, uint8(0), r.ReadUint8(9))
	assert.Equal(t, 0, r.Offset())
}

func TestReader_Overrun(t *testing.T) {
	r := NewReader(sample)
	r.Skip(30)
	assert.Equal(t, uint32(0), r.ReadUint32(8))
	assert.Equal(t, ErrOverrun, r.Err())
	assert.Equal(t, 0, r.BitsLeft())
	assert.Equal(t, uint8(0), r.ReadBit())

	// 全 0 的数据不是合法的指数哥伦布码
	r = NewReader([]byte{0, 0, 0, 0, 0})
	assert.Equal(t, uint32(0), r.ReadUe())
	assert.Equal(t, ErrOverrun, r.Err())
}

func TestReader_Golomb(t *testing.T) {
	ues := []uint32{0, 1, 2, 3, 7, 8, 255, 65535, 1 << 20}
	ses := []int32{0, 1, -1, 2, -2, 100, -100}

	w := NewWriter()
	for _, v := range ues {
		w.WriteUe(v)
	}
	for _, v := range ses {
		w.WriteSe(v)
	}
	w.WriteTrailingBits()

	r := NewReader(w.Bytes())
	for _, v := range ues {
		assert.Equal(t, v, r.ReadUe())
	}
	assert.True(t, r.MoreRBSPData())
	for _, v := range ses {
		assert.Equal(t, v, r.ReadSe())
	}
	assert.False(t, r.MoreRBSPData())
	assert.NoError(t, r.Err())
}

func TestReader_MoreRBSPData(t *testing.T) {
	r := NewReader([]byte{0xa0, 0x00}) // 1 0 stop
	assert.True(t, r.MoreRBSPData())
	r.Skip(2)
	assert.False(t, r.MoreRBSPData())
	assert.False(t, NewReader([]byte{0, 0}).MoreRBSPData())
}

func BenchmarkReader_ReadUe(b *testing.B) {
	w := NewWriter()
	w.WriteUe(1 << 12)
	data := w.Bytes()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewReader(data)
		_ = r.ReadUe()
	}
}
