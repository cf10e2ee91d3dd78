// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/network/socket/buffered"
	"github.com/cnotch/vdec/stats"
	"github.com/cnotch/xlog"
	"github.com/pion/rtp"
)

const (
	// transferPrefix RTP 包交织传输时的前缀
	transferPrefix = byte(0x24) // $

	channelVideo        = 0 // 视频通道
	channelVideoControl = 1 // 视频控制通道

	reportInterval = 5 * time.Second
)

// RTPOptions RTP 接入的网络参数
type RTPOptions struct {
	ReadTimeout time.Duration
	BufferSize  int
	FlushRate   int
}

// readPacket 读取一个交织的 RTP/RTCP 包
func readPacket(r io.Reader) (channel byte, data []byte, err error) {
	var prefix [4]byte
	// 读前缀4字节
	if _, err = io.ReadFull(r, prefix[:]); err != nil {
		return
	}
	if prefix[0] != transferPrefix {
		err = errors.New("RTP Pack must start with `$`")
		return
	}

	channel = prefix[1]
	data = make([]byte, binary.BigEndian.Uint16(prefix[2:]))
	_, err = io.ReadFull(r, data)
	return
}

// writePacket 以交织方式输出一个包
func writePacket(w io.Writer, channel byte, data []byte) error {
	var prefix [4]byte
	prefix[0] = transferPrefix
	prefix[1] = channel
	binary.BigEndian.PutUint16(prefix[2:], uint16(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// RTPSource 通过 TCP 交织方式接入的 H.264 RTP 流
type RTPSource struct {
	name       string
	conn       *buffered.Conn
	info       StreamInfo
	opts       RTPOptions
	frames     *queue.SyncQueue
	closed     int32
	remoteSSRC uint32
	logger     *xlog.Logger
}

// NewRTPSource 在连接上接收 RTP 流，info 可以为 nil
func NewRTPSource(c net.Conn, info *StreamInfo, opts RTPOptions) *RTPSource {
	name := "rtp://" + c.RemoteAddr().String()
	s := &RTPSource{
		name: name,
		conn: buffered.NewConn(c,
			buffered.BufferSize(opts.BufferSize),
			buffered.FlushRate(opts.FlushRate),
			buffered.ReadTimeout(opts.ReadTimeout),
			buffered.WithFlow(stats.NewFlow(stats.NetFlow))),
		opts:   opts,
		frames: queue.NewSyncQueue(),
		logger: xlog.L().With(xlog.Fields(xlog.F("source", name))),
	}
	if info != nil {
		s.info = *info
	}
	if s.info.ClockRate <= 0 {
		s.info.ClockRate = defaultClockRate
	}

	stats.Sources.Add()
	go s.process()
	return s
}

// Name 来源名称
func (s *RTPSource) Name() string {
	return s.name
}

// Flow 接收的流量
func (s *RTPSource) Flow() stats.FlowSample {
	return s.conn.Flow().GetSample()
}

func (s *RTPSource) process() {
	defer func() {
		defer func() { // 避免 handler 再 panic
			recover()
		}()

		if r := recover(); r != nil {
			s.logger.Errorf("rtp source routine panic；r = %v \n %s", r, debug.Stack())
		}
		s.Close()
		stats.Sources.Release()
	}()

	asm := &Assembler{}
	if s.info.ParameterSetsReady() {
		if err := asm.SetParameterSets(s.info.SPS, s.info.PPS); err != nil {
			s.logger.Warnf("sprop-parameter-sets is invalid: %v", err)
		}
	}
	dp := newDepacketizer(s.info.ClockRate, asm, func(f *Frame) {
		s.frames.Push(f)
	})
	defer dp.flush()

	lastReport := time.Now()
	for atomic.LoadInt32(&s.closed) == 0 {
		channel, data, err := readPacket(s.conn)
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				s.logger.Warnf("read rtp packet failed: %v", err)
			}
			return
		}

		if channel == channelVideo {
			s.video(dp, data)
		}

		if time.Since(lastReport) >= reportInterval {
			lastReport = time.Now()
			if err := s.sendReport(); err != nil {
				s.logger.Warnf("send receiver report failed: %v", err)
			}
		}
	}
}

func (s *RTPSource) video(dp *depacketizer, data []byte) {
	var h rtp.Header
	if err := h.Unmarshal(data); err != nil {
		s.logger.Warnf("unmarshal rtp header failed: %v", err)
		return
	}
	end := len(data)
	if h.Padding && end > int(h.PayloadOffset) {
		end -= int(data[end-1])
	}
	if end < int(h.PayloadOffset) {
		return
	}

	atomic.StoreUint32(&s.remoteSSRC, h.SSRC)
	if err := dp.depacketize(&h, data[h.PayloadOffset:end]); err != nil {
		s.logger.Warnf("rtp depacketize failed: %v", err)
	}
}

// sendReport 发送不带报告块的 RTCP 接收者报告，保持推流端的会话
func (s *RTPSource) sendReport() error {
	var rr [8]byte
	rr[0] = 0x80 // V=2, RC=0
	rr[1] = 201  // RR
	binary.BigEndian.PutUint16(rr[2:], 1)
	binary.BigEndian.PutUint32(rr[4:], atomic.LoadUint32(&s.remoteSSRC)+1)

	if err := writePacket(s.conn, channelVideoControl, rr[:]); err != nil {
		return err
	}
	return s.conn.Flush()
}

// ReadFrame 读取下一帧，阻塞到有帧或来源关闭
func (s *RTPSource) ReadFrame(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f, _ := s.frames.Pop().(*Frame); f != nil {
			return f, nil
		}
		if atomic.LoadInt32(&s.closed) != 0 {
			// 留给后续的读取
			s.frames.Push((*Frame)(nil))
			return nil, io.EOF
		}
	}
}

// Close 关闭连接
func (s *RTPSource) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	err := s.conn.Close()
	s.frames.Push((*Frame)(nil))
	return err
}
