// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"encoding/base64"
	"io/ioutil"
	"strings"

	"github.com/cnotch/vdec/av/h264"
	"github.com/pixelbender/go-sdp/sdp"
)

const defaultClockRate = 90000

// StreamInfo SDP 中描述的 H.264 视频
type StreamInfo struct {
	Codec     string  `json:"codec"`
	ClockRate int     `json:"clock_rate"`
	DataRate  float64 `json:"data_rate,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	SPS       []byte  `json:"-"`
	PPS       []byte  `json:"-"`
}

// LoadSDP 从文件加载 SDP
func LoadSDP(path string) (*StreamInfo, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSDP(string(raw))
}

// ParseSDP 解析 SDP 中的第一个 H.264 视频描述
func ParseSDP(rawsdp string) (*StreamInfo, error) {
	session, err := sdp.ParseString(rawsdp)
	if err != nil {
		return nil, err
	}

	for _, media := range session.Media {
		if media.Type != "video" || len(media.Format) == 0 {
			continue
		}
		format := media.Format[0]
		if strings.ToUpper(format.Name) != "H264" {
			continue
		}

		info := &StreamInfo{
			Codec:     "H264",
			ClockRate: defaultClockRate,
		}
		if format.ClockRate > 0 {
			info.ClockRate = format.ClockRate
		}
		for _, bw := range media.Bandwidth {
			if bw.Type == "AS" {
				info.DataRate = float64(bw.Value)
			}
		}
		for _, p := range format.Params {
			i := strings.Index(p, "sprop-parameter-sets=")
			if i < 0 {
				continue
			}
			p = p[i+len("sprop-parameter-sets="):]
			if endi := strings.IndexByte(p, ';'); endi > -1 {
				p = p[:endi]
			}
			info.parseSprop(p)
			break
		}
		return info, nil
	}
	return nil, ErrNoVideo
}

func (info *StreamInfo) parseSprop(s string) {
	for _, ps := range strings.Split(s, ",") {
		nalu, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ps))
		if err != nil || len(nalu) == 0 {
			continue
		}
		nalu = h264.RemoveNaluSeparator(nalu)
		switch {
		case h264.IsSps(nalu[0]):
			var sps h264.SPS
			if sps.Decode(nalu) == nil {
				info.SPS = nalu
				info.Width, info.Height = sps.Width(), sps.Height()
			}
		case h264.IsPps(nalu[0]):
			info.PPS = nalu
		}
	}
}

// ParameterSetsReady 是否带有参数集
func (info *StreamInfo) ParameterSetsReady() bool {
	return len(info.SPS) > 0 && len(info.PPS) > 0
}
