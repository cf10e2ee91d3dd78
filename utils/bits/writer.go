// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bits

// Writer 按位写入，高位在前
type Writer struct {
	buf    []byte
	offset int // bit base
}

// NewWriter returns a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit write a bit.
func (w *Writer) WriteBit(bit uint8) {
	if w.offset>>3 >= len(w.buf) {
		w.buf = append(w.buf, 0)
	}
	if bit&1 != 0 {
		w.buf[w.offset>>3] |= 0x80 >> uint(w.offset&0x7)
	}
	w.offset++
}

// WriteBool write one bit bool.
func (w *Writer) WriteBool(b bool) {
	if b {
		w.WriteBit(1)
	} else {
		w.WriteBit(0)
	}
}

// WriteUint write the low n bits of v.
func (w *Writer) WriteUint(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(uint8(v >> uint(i)))
	}
}

// WriteUe write the UE GolombCode.
func (w *Writer) WriteUe(v uint32) {
	v1 := uint64(v) + 1
	n := 0
	for tmp := v1; tmp > 1; tmp >>= 1 {
		n++
	}
	w.WriteUint(0, n)
	w.WriteUint(v1, n+1)
}

// WriteSe write the SE GolombCode.
func (w *Writer) WriteSe(v int32) {
	if v > 0 {
		w.WriteUe(uint32(v)*2 - 1)
	} else {
		w.WriteUe(uint32(-v) * 2)
	}
}

// WriteTrailingBits 写入 rbsp_stop_one_bit 并按字节对齐
func (w *Writer) WriteTrailingBits() {
	w.WriteBit(1)
	for w.offset&0x7 != 0 {
		w.WriteBit(0)
	}
}

// Offset returns the offset of bits.
func (w *Writer) Offset() int { return w.offset }

// Bytes returns the written bytes, the last byte is zero padded.
func (w *Writer) Bytes() []byte { return w.buf }
