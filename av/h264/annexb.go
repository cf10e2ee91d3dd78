// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package h264

import "bytes"

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// SplitNalus 按起始码拆分 Annex-B 码流，返回的 NAL 不含起始码
func SplitNalus(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalus = appendNalu(nalus, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = appendNalu(nalus, data[start:])
	}
	return nalus
}

// 去掉 4 字节起始码多出的前导 0 和尾部的 0
func appendNalu(nalus [][]byte, nalu []byte) [][]byte {
	for len(nalu) > 0 && nalu[len(nalu)-1] == 0 {
		nalu = nalu[:len(nalu)-1]
	}
	if len(nalu) > 0 {
		nalus = append(nalus, nalu)
	}
	return nalus
}

// RemoveNaluSeparator 移除 NALU 分隔符 0x00000001 或 0x000001
func RemoveNaluSeparator(nalu []byte) []byte {
	if bytes.HasPrefix(nalu, startCode) {
		return nalu[4:]
	}
	if bytes.HasPrefix(nalu, startCode[1:]) {
		return nalu[3:]
	}
	return nalu
}

// RemoveEmulationBytes 复制 NAL 单元并去掉防竞争字节 0x03
func RemoveEmulationBytes(from []byte) []byte {
	from = RemoveNaluSeparator(from)
	to := make([]byte, 0, len(from))
	zeros := 0
	for _, b := range from {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		to = append(to, b)
	}
	return to
}

// AddEmulationBytes 在 RBSP 中插入防竞争字节，避免出现起始码
func AddEmulationBytes(rbsp []byte) []byte {
	to := make([]byte, 0, len(rbsp)+len(rbsp)/64+1)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			to = append(to, 3)
			zeros = 0
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		to = append(to, b)
	}
	return to
}

// AppendNalu 以 4 字节起始码追加一个 NAL 单元
func AppendNalu(dst []byte, nalu []byte) []byte {
	dst = append(dst, startCode...)
	return append(dst, nalu...)
}
