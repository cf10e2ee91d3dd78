// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package source

import (
	"net"

	"github.com/cnotch/xlog"
	"github.com/kelindar/tcp"
)

// RTPServer 接受 RTP over TCP 推流，每个连接是一个 RTPSource
type RTPServer struct {
	info     *StreamInfo
	opts     RTPOptions
	onSource func(*RTPSource)
	srv      *tcp.Server
	logger   *xlog.Logger
}

// NewRTPServer 创建接入服务，info 描述推流的参数集，可以为 nil
func NewRTPServer(info *StreamInfo, opts RTPOptions, onSource func(*RTPSource)) *RTPServer {
	s := &RTPServer{
		info:     info,
		opts:     opts,
		onSource: onSource,
		srv:      new(tcp.Server),
		logger:   xlog.L().With(xlog.Fields(xlog.F("server", "rtp"))),
	}
	s.srv.OnAccept = s.onAccept
	return s
}

// Serve 在 l 上接受连接，直到 l 关闭
func (s *RTPServer) Serve(l net.Listener) error {
	s.logger.Infof("rtp ingest listen on %s", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *RTPServer) onAccept(c net.Conn) {
	src := NewRTPSource(c, s.info, s.opts)
	s.logger.Infof("rtp source connected: %s", src.Name())
	if s.onSource == nil {
		src.Close()
		return
	}
	s.onSource(src)
}
