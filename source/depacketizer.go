// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"fmt"

	"github.com/cnotch/vdec/av/h264"
	"github.com/pion/rtp"
)

// rtpClock 把 32 位 RTP 时间戳展开成从第一个包开始的微秒数
type rtpClock struct {
	clockRate int64
	last      uint32
	elapsed   int64
	started   bool
}

func (c *rtpClock) micros(ts uint32) int64 {
	if !c.started {
		c.started = true
		c.last = ts
	}
	c.elapsed += int64(int32(ts - c.last))
	c.last = ts
	return c.elapsed * 1000000 / c.clockRate
}

// depacketizer 按 RFC 6184 从 RTP 包中提取 H.264 NAL
type depacketizer struct {
	fragments []byte // FU-A 分片重组的 NAL
	nextSeq   uint16
	inFU      bool
	clock     rtpClock
	asm       *Assembler
	w         func(*Frame)
}

func newDepacketizer(clockRate int, asm *Assembler, w func(*Frame)) *depacketizer {
	if clockRate <= 0 {
		clockRate = defaultClockRate
	}
	return &depacketizer{
		fragments: make([]byte, 0, 64*1024),
		clock:     rtpClock{clockRate: int64(clockRate)},
		asm:       asm,
		w:         w,
	}
}

func (dp *depacketizer) depacketize(h *rtp.Header, payload []byte) error {
	if len(payload) < 2 {
		return nil
	}
	ts := dp.clock.micros(h.Timestamp)

	// +---------------+
	// |0|1|2|3|4|5|6|7|
	// +-+-+-+-+-+-+-+-+
	// |F|NRI|  Type   |
	// +---------------+
	naluType := payload[0] & h264.NalTypeBitmask
	switch {
	case naluType < h264.NalStapaInRtp:
		dp.writeNalu(payload, ts)
	case naluType == h264.NalStapaInRtp:
		return dp.depacketizeStapa(payload, ts)
	case naluType == h264.NalFuAInRtp:
		dp.depacketizeFuA(h.SequenceNumber, payload, ts)
	default:
		return fmt.Errorf("nalu type %d is currently not handled", naluType)
	}
	return nil
}

func (dp *depacketizer) depacketizeStapa(payload []byte, ts int64) error {
	// |STAP-A NAL HDR | NALU 1 Size | NALU 1 HDR | NALU 1 Data | NALU 2 Size | ...
	off := 1
	for off+2 <= len(payload) {
		size := int(payload[off])<<8 | int(payload[off+1])
		off += 2
		if size < 1 {
			break
		}
		if off+size > len(payload) {
			return fmt.Errorf("stap-a nalu size %d exceeds payload", size)
		}
		nalu := make([]byte, size)
		copy(nalu, payload[off:off+size])
		dp.writeNalu(nalu, ts)
		off += size
	}
	return nil
}

func (dp *depacketizer) depacketizeFuA(seq uint16, payload []byte, ts int64) {
	// | FU indicator  |   FU header   | FU payload ...
	// FU header: |S|E|R|  Type   |
	indicator, fuHeader := payload[0], payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0

	if start {
		dp.fragments = append(dp.fragments[:0], (indicator&0xe0)|(fuHeader&0x1f))
		dp.inFU = true
	} else if !dp.inFU || seq != dp.nextSeq {
		// 丢包，丢弃整个 NAL
		dp.inFU = false
		return
	}
	dp.nextSeq = seq + 1
	dp.fragments = append(dp.fragments, payload[2:]...)

	if end {
		dp.inFU = false
		nalu := make([]byte, len(dp.fragments))
		copy(nalu, dp.fragments)
		dp.writeNalu(nalu, ts)
	}
}

func (dp *depacketizer) writeNalu(nalu []byte, ts int64) {
	if f := dp.asm.Write(nalu, ts); f != nil {
		dp.w(f)
	}
}

// flush 输出未完成的访问单元
func (dp *depacketizer) flush() {
	if f := dp.asm.Flush(); f != nil {
		dp.w(f)
	}
}
