/**********************************************************************************
* Copyright (c) 2009-2017 Misakai Ltd.
* This program is free software: you can redistribute it and/or modify it under the
* terms of the GNU Affero General Public License as published by the  Free Software
* Foundation, either version 3 of the License, or(at your option) any later version.
*
* This program is distributed  in the hope that it  will be useful, but WITHOUT ANY
* WARRANTY;  without even  the implied warranty of MERCHANTABILITY or FITNESS FOR A
* PARTICULAR PURPOSE.  See the GNU Affero General Public License  for  more details.
*
* You should have  received a copy  of the  GNU Affero General Public License along
* with this program. If not, see<http://www.gnu.org/licenses/>.
************************************************************************************/
//
// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package websocket

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // 单条消息的写超时
	pongWait       = 60 * time.Second    // 等待对端 pong 的时间
	pingPeriod     = (pongWait * 9) / 10 // 必须小于 pongWait
	maxMessageSize = 4096                // 客户端只发送简单的控制消息
)

// Subprotocol 事件推送的子协议
const Subprotocol = "events"

var upgrader = &websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

type socket interface {
	NextReader() (messageType int, r io.Reader, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Subprotocol() string
}

// Conn 服务端推送连接。
// 客户端发来的消息只用于维持心跳，读取失败即认为对端断开。
type Conn struct {
	socket    socket
	path      string
	wlock     sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Upgrade 升级 HTTP 请求；失败时 upgrader 已经回复了错误
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, r.URL.Path), nil
}

func newConn(ws socket, path string) *Conn {
	c := &Conn{
		socket: ws,
		path:   path,
		done:   make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.discard()
	go c.keepalive()
	return c
}

// discard 丢弃客户端消息，直到连接出错
func (c *Conn) discard() {
	defer c.shutdown()
	for {
		if _, _, err := c.socket.NextReader(); err != nil {
			return
		}
	}
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done 连接断开或关闭时关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WriteJSON 以文本消息发送 v 的 JSON 编码
func (c *Conn) WriteJSON(v interface{}) error {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.socket.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err = json.NewEncoder(w).Encode(v); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Close 发送关闭帧并断开连接
func (c *Conn) Close() error {
	c.shutdown()
	c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.socket.Close()
}

// Path 请求路径
func (c *Conn) Path() string { return c.path }

// Subprotocol 协商的子协议
func (c *Conn) Subprotocol() string { return c.socket.Subprotocol() }

// RemoteAddr 对端地址
func (c *Conn) RemoteAddr() net.Addr { return c.socket.RemoteAddr() }
