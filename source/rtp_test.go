// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cnotch/vdec/av/h264"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rtpStream 按 RFC 6184 打包测试码流
type rtpStream struct {
	t   *testing.T
	seq uint16
}

func (s *rtpStream) packet(ts uint32, payload []byte) []byte {
	s.seq++
	p := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: s.seq,
			Timestamp:      ts,
			SSRC:           0x1234,
		},
		Payload: payload,
	}
	data, err := p.Marshal()
	require.NoError(s.t, err)
	return data
}

func stapA(nalus ...[]byte) []byte {
	payload := []byte{h264.NalStapaInRtp | 0x60}
	for _, nalu := range nalus {
		payload = append(payload, byte(len(nalu)>>8), byte(len(nalu)))
		payload = append(payload, nalu...)
	}
	return payload
}

func fuA(nalu []byte, n int) [][]byte {
	indicator := nalu[0]&0xe0 | h264.NalFuAInRtp
	body := nalu[1:]
	var fragments [][]byte
	for i := 0; i < len(body); i += n {
		end := i + n
		if end > len(body) {
			end = len(body)
		}
		header := nalu[0] & 0x1f
		if i == 0 {
			header |= 0x80
		}
		if end == len(body) {
			header |= 0x40
		}
		fragments = append(fragments, append([]byte{indicator, header}, body[i:end]...))
	}
	return fragments
}

func parseHeader(t *testing.T, data []byte) (*rtp.Header, []byte) {
	var h rtp.Header
	require.NoError(t, h.Unmarshal(data))
	return &h, data[h.PayloadOffset:]
}

func TestDepacketizer(t *testing.T) {
	w, aus := gops(t, "IP")
	headers := h264.SplitNalus(w.Headers())
	idr := h264.SplitNalus(aus[0].Data)[2]
	p := h264.SplitNalus(aus[1].Data)[0]

	var frames []*Frame
	dp := newDepacketizer(0, &Assembler{}, func(f *Frame) { frames = append(frames, f) })
	s := &rtpStream{t: t}

	write := func(ts uint32, payload []byte) {
		h, pl := parseHeader(t, s.packet(ts, payload))
		require.NoError(t, dp.depacketize(h, pl))
	}
	write(9000, stapA(headers...))
	for _, fu := range fuA(idr, 2) {
		write(9000, fu)
	}
	write(12000, p)
	dp.flush()

	require.Len(t, frames, 2)
	assert.Equal(t, aus[0].Data, frames[0].Data)
	assert.Equal(t, int64(0), frames[0].Timestamp)
	assert.True(t, frames[0].IDR)
	assert.Equal(t, aus[1].Data, frames[1].Data)
	assert.Equal(t, int64(33333), frames[1].Timestamp)

	h, pl := parseHeader(t, s.packet(12000, []byte{30, 0}))
	assert.Error(t, dp.depacketize(h, pl))
}

func TestDepacketizer_FragmentLoss(t *testing.T) {
	w, aus := gops(t, "IP")
	headers := h264.SplitNalus(w.Headers())
	idr := h264.SplitNalus(aus[0].Data)[2]
	require.True(t, len(idr) > 3)

	var frames []*Frame
	asm := &Assembler{}
	require.NoError(t, asm.SetParameterSets(headers[0], headers[1]))
	dp := newDepacketizer(90000, asm, func(f *Frame) { frames = append(frames, f) })
	s := &rtpStream{t: t}

	fragments := fuA(idr, 1)
	for i, fu := range fragments {
		pkt := s.packet(0, fu)
		if i == 1 {
			continue // 丢失第二个分片
		}
		h, pl := parseHeader(t, pkt)
		require.NoError(t, dp.depacketize(h, pl))
	}
	dp.flush()
	assert.Empty(t, frames)
}

func TestRTPClock_Wrap(t *testing.T) {
	c := rtpClock{clockRate: 90000}
	base := uint32(0xffffff00)
	assert.Equal(t, int64(0), c.micros(base))
	assert.Equal(t, int64(10000), c.micros(base+900))
	// 回绕之后继续递增
	assert.Equal(t, int64(20000), c.micros(base+1800))
	assert.Equal(t, int64(10000), c.micros(base+900))
}

func TestParseSDP(t *testing.T) {
	w, _ := gops(t, "I")
	headers := h264.SplitNalus(w.Headers())
	sprop := base64.StdEncoding.EncodeToString(headers[0]) + "," +
		base64.StdEncoding.EncodeToString(headers[1])

	raw := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=vdec\r\n" +
		"t=0 0\r\n" +
		"m=audio 0 RTP/AVP 97\r\n" +
		"a=rtpmap:97 MPEG4-GENERIC/44100/2\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"b=AS:500\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=" + sprop + ";profile-level-id=4d0028\r\n"

	info, err := ParseSDP(raw)
	require.NoError(t, err)
	assert.Equal(t, "H264", info.Codec)
	assert.Equal(t, 90000, info.ClockRate)
	assert.Equal(t, float64(500), info.DataRate)
	assert.Equal(t, 176, info.Width)
	assert.Equal(t, 144, info.Height)
	assert.Equal(t, headers[0], info.SPS)
	assert.Equal(t, headers[1], info.PPS)
	assert.True(t, info.ParameterSetsReady())

	_, err = ParseSDP("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=a\r\nt=0 0\r\nm=audio 0 RTP/AVP 0\r\n")
	assert.Equal(t, ErrNoVideo, err)
}

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, 3, []byte{1, 2, 3}))
	assert.Equal(t, []byte{'$', 3, 0, 3, 1, 2, 3}, buf.Bytes())

	ch, data, err := readPacket(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, byte(3), ch)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, _, err = readPacket(bufio.NewReader(bytes.NewReader([]byte{'x', 0, 0, 0})))
	assert.Error(t, err)
}

func TestRTPSource(t *testing.T) {
	w, aus := gops(t, "IBP")
	headers := h264.SplitNalus(w.Headers())
	info := &StreamInfo{ClockRate: 90000, SPS: headers[0], PPS: headers[1]}

	server, client := net.Pipe()
	src := NewRTPSource(server, info, RTPOptions{ReadTimeout: 5 * time.Second})
	defer src.Close()
	assert.Equal(t, "rtp://pipe", src.Name())

	go func() {
		s := &rtpStream{t: t}
		bw := bufio.NewWriter(client)
		for _, au := range aus {
			ts := uint32(au.Display * 3000)
			for _, nalu := range h264.SplitNalus(au.Data) {
				if h264.IsSps(nalu[0]) || h264.IsPps(nalu[0]) {
					continue // 参数集只在 SDP 中
				}
				writePacket(bw, channelVideo, s.packet(ts, nalu))
			}
			writePacket(bw, channelVideoControl, []byte{0x80, 200, 0, 0})
		}
		bw.Flush()
		client.Close()
	}()

	ctx := context.Background()
	var got []*Frame
	for {
		f, err := src.ReadFrame(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Len(t, got, 3)
	for i, f := range got {
		assert.Equal(t, aus[i].Data, f.Data, "frame %d", i)
		assert.Equal(t, int64(aus[i].Display)*33333, f.Timestamp)
	}
	assert.True(t, src.Flow().InBytes > 0)

	// 关闭之后继续返回 EOF
	_, err := src.ReadFrame(ctx)
	assert.Equal(t, io.EOF, err)
}
