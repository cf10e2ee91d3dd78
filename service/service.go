// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cnotch/scheduler"
	"github.com/cnotch/vdec/config"
	"github.com/cnotch/vdec/device/emul"
	"github.com/cnotch/vdec/network"
	"github.com/cnotch/vdec/pipeline"
	"github.com/cnotch/vdec/source"
	"github.com/cnotch/xlog"
	"github.com/emitter-io/address"
)

// 默认端口
const (
	defaultPort    = 1554
	defaultTLSPort = 1443
	defaultRTPPort = 1555
)

// Service 网络服务对象(服务的入口)
type Service struct {
	context   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *xlog.Logger
	tlsusing  bool
	http      *http.Server
	rtp       *source.RTPServer
	listeners []net.Listener
}

// NewService 创建服务
func NewService(ctx context.Context, l *xlog.Logger) (s *Service, err error) {
	ctx, cancel := context.WithCancel(ctx)
	s = &Service{
		context: ctx,
		cancel:  cancel,
		logger:  l,
		http:    &http.Server{ReadHeaderTimeout: config.NetTimeout() / 3},
	}

	// 设置 http 的Handler
	mux := http.NewServeMux()

	if config.Profile() {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.initApis(mux)
	s.initEvents(mux)
	s.http.Handler = mux

	// RTP 推流接入
	srcConf := config.Source()
	if srcConf.RtpListen != "" {
		var info *source.StreamInfo
		if srcConf.SDP != "" {
			if info, err = source.LoadSDP(srcConf.SDP); err != nil {
				cancel()
				return nil, fmt.Errorf("load sdp `%s` failed: %v", srcConf.SDP, err)
			}
		}
		s.rtp = source.NewRTPServer(info, source.RTPOptions{
			ReadTimeout: config.NetTimeout(),
			BufferSize:  config.NetBufferSize(),
			FlushRate:   config.NetFlushRate(),
		}, s.onRTPSource)
	}

	// 启动定时输出解码统计
	pipeline.StartReport(config.StatsInterval())

	s.logger.Info("service configured")
	return s, nil
}

// StartDecoder 为来源创建、注册并启动解码实例
func (s *Service) StartDecoder(src source.Source) (*pipeline.Pipeline, error) {
	dec := config.Decoder()
	p := pipeline.New(src, nil, emul.Open(dec.EngineOptions()...), dec.Options()...)

	if dec.Dump != "" {
		sink, err := pipeline.CreateFileSink(dumpPath(dec.Dump, p.ID()))
		if err != nil {
			p.Close()
			return nil, err
		}
		p.SetSink(sink)
	}

	pipeline.Regist(p)
	if err := p.Start(); err != nil {
		pipeline.Unregist(p)
		return nil, err
	}
	s.logger.Infof("decoder %s started, source = %s", p.ID(), src.Name())
	return p, nil
}

// StartFile 解码 Annex-B 文件
func (s *Service) StartFile(path string, fps int, loop bool) (*pipeline.Pipeline, error) {
	src, err := source.OpenFile(path, fps, loop)
	if err != nil {
		return nil, err
	}
	return s.StartDecoder(src)
}

func (s *Service) onRTPSource(src *source.RTPSource) {
	if _, err := s.StartDecoder(src); err != nil {
		s.logger.Errorf("start decoder for `%s` failed: %v", src.Name(), err)
		src.Close()
	}
}

// dumpPath 在文件名后附加实例编号，区分同时运行的实例
func dumpPath(base string, id pipeline.ID) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + id.String() + ext
}

// Listen starts the service.
func (s *Service) Listen() (err error) {
	defer s.Close()
	s.hookSignals()

	// http ws
	addr, err := address.Parse(config.Addr(), defaultPort)
	if err != nil {
		s.logger.Panic(err.Error())
	}

	s.listen(addr, nil)

	// https wss
	tlsconf := config.GetTLSConfig()
	if tlsconf != nil {
		tls, err := tlsconf.Load()
		if err == nil {
			if tlsAddr, err := address.Parse(tlsconf.ListenAddr, defaultTLSPort); err == nil {
				s.listen(tlsAddr, tls)
				s.tlsusing = true
			}
		} else {
			s.logger.Warnf("load tls config failed: %v", err)
		}
	}

	// rtp over tcp
	if s.rtp != nil {
		rtpAddr, err := address.Parse(config.Source().RtpListen, defaultRTPPort)
		if err != nil {
			s.logger.Panic(err.Error())
		}
		l, err := net.Listen("tcp", rtpAddr.String())
		if err != nil {
			s.logger.Panic(err.Error())
		}
		s.listeners = append(s.listeners, l)
		go func() {
			if err := s.rtp.Serve(l); err != nil && s.context.Err() == nil {
				s.logger.Warnf("rtp ingest stopped: %v", err)
			}
		}()
	}

	s.logger.Infof("service started(%s).", config.Version)
	s.logger = xlog.L()
	// Block
	<-s.context.Done()
	return nil
}

// listen configures an main listener on a specified address.
func (s *Service) listen(addr *net.TCPAddr, conf *tls.Config) {
	// Create new listener
	s.logger.Infof("starting the listener, addr = %s.", addr.String())

	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		s.logger.Panic(err.Error())
	}

	scheme := "http"
	if conf != nil {
		l = tls.NewListener(l, conf)
		scheme = "https"
	}
	s.listeners = append(s.listeners, l)
	for _, url := range network.URLs(scheme, addr) {
		s.logger.Infof("api: %s/api/v1/decoders", url)
	}

	go func() {
		if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
			s.logger.Warn(err.Error())
		}
	}()
}

// Close closes gracefully the service.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		// 停止计划任务
		jobs := scheduler.Jobs()
		for _, job := range jobs {
			job.Cancel()
		}

		s.http.Close()
		for _, l := range s.listeners {
			l.Close()
		}

		// 清空注册
		pipeline.UnregistAll()
	})
}

// hookSignals 处理退出信号
func (s *Service) hookSignals() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range c {
			s.onSignal(sig)
		}
	}()
}

// OnSignal will be called when a OS-level signal is received.
func (s *Service) onSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM:
		fallthrough
	case syscall.SIGINT:
		s.logger.Warn(fmt.Sprintf("received signal %s, exiting...", sig.String()))
		s.Close()
		os.Exit(0)
	}
}
