// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bits

import "errors"

// ErrOverrun 读取超出了数据末尾
var ErrOverrun = errors.New("bits: read beyond the end of data")

// Reader 按位读取，高位在前。
// 越界读取返回 0 并记录 ErrOverrun，解析完成后通过 Err 统一检查。
type Reader struct {
	buf    []byte
	offset int // bit base
	err    error
}

// NewReader returns a new Reader.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err 返回第一次越界的错误
func (r *Reader) Err() error { return r.err }

// Offset returns the offset of bits.
func (r *Reader) Offset() int { return r.offset }

// BitsLeft returns the number of left bits.
func (r *Reader) BitsLeft() int { return len(r.buf)<<3 - r.offset }

// ensure 检查剩余位数，不足时记录错误并移到末尾
func (r *Reader) ensure(n int) bool {
	if r.err != nil {
		return false
	}
	if n > r.BitsLeft() {
		r.err = ErrOverrun
		r.offset = len(r.buf) << 3
		return false
	}
	return true
}

// Skip skip n bits.
func (r *Reader) Skip(n int) {
	if n > 0 && r.ensure(n) {
		r.offset += n
	}
}

// ReadBit read a bit.
func (r *Reader) ReadBit() uint8 {
	if !r.ensure(1) {
		return 0
	}
	bit := (r.buf[r.offset>>3] >> uint(7-r.offset&0x7)) & 1
	r.offset++
	return bit
}

// ReadBool read one bit bool.
func (r *Reader) ReadBool() bool { return r.ReadBit() == 1 }

// Read read the uint32 of n bits.
func (r *Reader) Read(n int) uint32 { return uint32(r.read(n, 32)) }

// ReadUint8 read the uint8 of n bits.
func (r *Reader) ReadUint8(n int) uint8 { return uint8(r.read(n, 8)) }

// ReadUint16 read the uint16 of n bits.
func (r *Reader) ReadUint16(n int) uint16 { return uint16(r.read(n, 16)) }

// ReadUint32 read the uint32 of n bits.
func (r *Reader) ReadUint32(n int) uint32 { return uint32(r.read(n, 32)) }

// ReadUint64 read the uint64 of n bits.
func (r *Reader) ReadUint64(n int) uint64 { return r.read(n, 64) }

// ReadUe read the UE GolombCode.
func (r *Reader) ReadUe() uint32 {
	zeros := 0
	for r.ReadBit() == 0 {
		if r.err != nil || zeros == 31 {
			// 超过 32 位的码字在 H.264 中不合法
			if r.err == nil {
				r.err = ErrOverrun
			}
			return 0
		}
		zeros++
	}
	return uint32(1)<<uint(zeros) - 1 + r.Read(zeros)
}

// ReadUe8 read the UE GolombCode of uint8.
func (r *Reader) ReadUe8() uint8 { return uint8(r.ReadUe()) }

// ReadUe16 read the UE GolombCode of uint16.
func (r *Reader) ReadUe16() uint16 { return uint16(r.ReadUe()) }

// ReadSe read the SE GolombCode.
func (r *Reader) ReadSe() int32 {
	v := r.ReadUe()
	if v&1 != 0 {
		return int32((v + 1) / 2)
	}
	return -int32(v / 2)
}

// MoreRBSPData 在 rbsp_stop_one_bit 之前是否还有数据
func (r *Reader) MoreRBSPData() bool {
	left := r.BitsLeft()
	if left <= 0 {
		return false
	}
	// 从末尾找 stop bit
	last := len(r.buf) - 1
	for last >= 0 && r.buf[last] == 0 {
		last--
	}
	if last < 0 {
		return false
	}
	b := r.buf[last]
	stop := last<<3 + 7
	for b&1 == 0 {
		b >>= 1
		stop--
	}
	return r.offset < stop
}

// read 读取 n 位，n 超过 max 时返回 0
func (r *Reader) read(n, max int) (v uint64) {
	if n <= 0 || n > max || !r.ensure(n) {
		return 0
	}
	for ; n > 0; n-- {
		v = v<<1 | uint64((r.buf[r.offset>>3]>>uint(7-r.offset&0x7))&1)
		r.offset++
	}
	return
}
