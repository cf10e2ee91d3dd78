// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgrade(t *testing.T) {
	closed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()

		c.WriteJSON(map[string]string{"path": c.Path(), "subprotocol": c.Subprotocol()})
		<-c.Done()
		close(closed)
	}))
	defer srv.Close()

	// 普通请求不能升级
	resp, err := http.Get(srv.URL + "/ws/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)

	typ, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]string{"path": "/ws/events", "subprotocol": Subprotocol}, got)

	// 客户端的消息被丢弃，断开后服务端得到通知
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ignored")))
	ws.Close()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("server does not detect the disconnection")
	}
}
