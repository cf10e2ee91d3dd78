// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"net/http"

	"github.com/cnotch/vdec/network/websocket"
	"github.com/cnotch/vdec/pipeline"
	"github.com/cnotch/vdec/stats"
)

const eventBacklog = 64

func (s *Service) initEvents(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", s.onEvents)
}

// onEvents 以 JSON 文本消息推送解码事件，?id= 只推送指定实例
func (s *Service) onEvents(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("id")
	c, err := websocket.Upgrade(w, r)
	if err != nil {
		return
	}
	defer c.Close()

	stats.WsClients.Add()
	defer stats.WsClients.Release()

	events, cancel := pipeline.Subscribe(eventBacklog)
	defer cancel()

	addr := c.RemoteAddr().String()
	s.logger.Infof("event subscriber connected: %s", addr)
	defer s.logger.Infof("event subscriber disconnected: %s", addr)

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && e.Pipeline != filter {
				continue
			}
			if err := c.WriteJSON(&e); err != nil {
				return
			}
		case <-c.Done():
			return
		}
	}
}
