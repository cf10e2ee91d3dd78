// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package buffered

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/cnotch/vdec/stats"
	"github.com/kelindar/rate"
)

const (
	defaultRate       = 50
	defaultBufferSize = 64 * 1024
	minBufferSize     = 8 * 1024
)

// Conn 推流接入连接，读写都经过缓冲并计入流量统计；
// 写入按频率合并后发送，适合稀疏的控制报文。
type Conn struct {
	net.Conn
	reader      *bufio.Reader
	wlock       sync.Mutex
	writer      *bytes.Buffer
	limit       *rate.Limiter
	bufferSize  int
	readTimeout time.Duration
	flow        *stats.Flow
}

// NewConn 包装连接
func NewConn(c net.Conn, options ...Option) *Conn {
	conn := &Conn{Conn: c}
	for _, option := range options {
		option(conn)
	}

	if conn.limit == nil {
		conn.limit = rate.New(defaultRate, time.Second)
	}
	if conn.bufferSize <= 0 {
		conn.bufferSize = defaultBufferSize
	}
	if conn.flow == nil {
		conn.flow = stats.NewFlow(nil)
	}

	conn.reader = bufio.NewReaderSize(c, conn.bufferSize)
	conn.writer = bytes.NewBuffer(make([]byte, 0, conn.bufferSize))
	return conn
}

// Flow 连接的流量统计
func (c *Conn) Flow() *stats.Flow {
	return c.flow
}

// Read 从读缓冲读取，每次读取前刷新读超时
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 && c.reader.Buffered() == 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	n, err := c.reader.Read(p)
	c.flow.AddIn(int64(n))
	return n, err
}

// Buffered 待发送的字节数
func (c *Conn) Buffered() int {
	c.wlock.Lock()
	defer c.wlock.Unlock()
	return c.writer.Len()
}

// Write 写入缓冲；超过刷新频率时只缓存，等待下一次写入或 Flush
func (c *Conn) Write(p []byte) (int, error) {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	if c.writer.Len()+len(p) > c.bufferSize {
		if err := c.flush(); err != nil {
			return 0, err
		}
		if len(p) > c.bufferSize {
			return c.writeFull(p)
		}
	}

	n, _ := c.writer.Write(p)
	if c.limit.Limit() {
		return n, nil
	}
	return n, c.flush()
}

// Flush 立即发送缓冲的数据
func (c *Conn) Flush() error {
	c.wlock.Lock()
	defer c.wlock.Unlock()
	return c.flush()
}

func (c *Conn) flush() error {
	if c.writer.Len() == 0 {
		return nil
	}
	_, err := c.writeFull(c.writer.Bytes())
	c.writer.Reset()
	return err
}

func (c *Conn) writeFull(p []byte) (nn int, err error) {
	var n int
	for len(p) > 0 && err == nil {
		n, err = c.Conn.Write(p)
		nn += n
		p = p[n:]
	}
	c.flow.AddOut(int64(nn))
	return nn, err
}

// Option 配置 Conn 的选项
type Option func(*Conn)

// FlushRate 每秒最多的发送次数
func FlushRate(r int) Option {
	return func(c *Conn) {
		if r < 1 { // 如果不合规，设置成默认值
			r = defaultRate
		}
		c.limit = rate.New(r, time.Second)
	}
}

// BufferSize 读写缓冲大小
func BufferSize(bufferSize int) Option {
	return func(c *Conn) {
		if bufferSize < minBufferSize { // 如果不合规，设置成最小值
			bufferSize = minBufferSize
		}
		c.bufferSize = bufferSize
	}
}

// ReadTimeout 读超时，0 表示不超时
func ReadTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.readTimeout = d
	}
}

// WithFlow 流量计入 f
func WithFlow(f *stats.Flow) Option {
	return func(c *Conn) {
		c.flow = f
	}
}
