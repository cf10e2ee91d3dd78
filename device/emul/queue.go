// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package emul

import (
	"time"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/device"
)

// doneBuffer 处理完等待出队的缓冲
type doneBuffer struct {
	buf *device.Buffer
	tag int
}

// bufferQueue 引擎的输入或输出队列，所有字段由 Decoder.mu 保护
type bufferQueue struct {
	d      *Decoder
	output bool

	g          device.Geometry
	count      int
	running    bool
	registered int
	free       queue.Queue // *frame，只用于输出队列
	done       queue.Queue // *doneBuffer
	changed    chan struct{}
}

var _ device.BufferOps = (*bufferQueue)(nil)

func newBufferQueue(d *Decoder, output bool) *bufferQueue {
	return &bufferQueue{
		d:       d,
		output:  output,
		changed: make(chan struct{}),
	}
}

// signal 唤醒等待的 Poll
func (q *bufferQueue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// reset 回到未配置状态
func (q *bufferQueue) reset() {
	q.count = 0
	q.running = false
	q.registered = 0
	q.free.Reset()
	q.done.Reset()
	q.signal()
}

func (q *bufferQueue) push(buf *device.Buffer, tag int) {
	q.done.Push(&doneBuffer{buf: buf, tag: tag})
	q.signal()
}

// owned 引擎持有的输出缓冲数量
func (q *bufferQueue) owned() int {
	n := q.free.Len() + q.done.Len()
	for _, p := range q.d.dpb {
		if p.frame != nil {
			n++
		}
	}
	return n
}

func (q *bufferQueue) checkPlanes(planes []device.Plane) error {
	conf := &q.d.conf
	if len(planes) < conf.PlaneCount {
		return device.ErrWrongBufferSize
	}
	for i := 0; i < conf.PlaneCount; i++ {
		if planes[i].AllocSize < conf.PlaneSize[i] || len(planes[i].Addr) < conf.PlaneSize[i] {
			return device.ErrWrongBufferSize
		}
	}
	return nil
}

// SetGeometry 设置队列格式，输出队列只使用其中的颜色格式
func (q *bufferQueue) SetGeometry(g *device.Geometry) error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if !q.output {
		if g.SizeImage <= 0 {
			return device.ErrUnsupported
		}
		q.g = *g
		return nil
	}

	if !d.CheckFormat(g.ColorFormat) {
		return device.ErrUnsupported
	}
	d.format = g.ColorFormat
	if d.active != nil {
		d.conf = geometry(d.active, d.format)
	}
	return nil
}

// Geometry 读取当前格式
func (q *bufferQueue) Geometry() (device.Geometry, error) {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if !q.output {
		return q.g, nil
	}
	if d.active == nil {
		return device.Geometry{}, device.ErrNoHeader
	}
	return d.conf, nil
}

// Setup 申请 n 个缓冲槽，输出队列重新配置完成
func (q *bufferQueue) Setup(n int) error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if n <= 0 {
		return device.ErrUnsupported
	}
	if q.output {
		if d.active == nil {
			return device.ErrNoHeader
		}
		d.reconfig = false
	}
	q.count = n
	d.pump()
	return nil
}

// Run 开始处理
func (q *bufferQueue) Run() error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.count == 0 {
		return device.ErrNotConfigured
	}
	if !q.running {
		q.running = true
		q.signal()
	}
	d.pump()
	return nil
}

// Stop 停止处理，丢弃队列中的所有缓冲
func (q *bufferQueue) Stop() error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	q.running = false
	q.clear()
	q.signal()
	return nil
}

func (q *bufferQueue) clear() {
	d := q.d
	q.free.Reset()
	q.done.Reset()
	if q.output {
		d.dpb = nil
	} else {
		d.pending.Reset()
		d.queued = d.active
	}
}

// Enqueue 提交缓冲
func (q *bufferQueue) Enqueue(planes []device.Plane, private interface{}) error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return device.ErrEIO
	}
	if q.count == 0 {
		return device.ErrNotConfigured
	}
	if len(planes) == 0 {
		return device.ErrUnsupported
	}

	if !q.output {
		d.parse(planes[0])
		if private != nil || planes[0].DataSize > 0 {
			buf := &device.Buffer{PlaneCount: 1, Private: private}
			buf.Planes[0] = planes[0]
			q.push(buf, d.nextTag)
		}
		d.pump()
		return nil
	}

	if err := q.checkPlanes(planes); err != nil {
		return err
	}
	if q.owned() >= q.count {
		return device.ErrQueueFull
	}
	q.free.Push(&frame{planes: append([]device.Plane(nil), planes...), private: private})
	d.pump()
	return nil
}

// Dequeue 取回处理完的缓冲
func (q *bufferQueue) Dequeue() (*device.Buffer, error) {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.broken {
		return nil, device.ErrEIO
	}
	v, ok := q.done.Pop()
	if !ok {
		return nil, nil
	}
	db := v.(*doneBuffer)
	if q.output {
		d.frameTag = db.tag
	}
	return db.buf, nil
}

// Poll 等待直到有缓冲可以出队、队列停止或超时
func (q *bufferQueue) Poll(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	d := q.d
	for {
		d.mu.Lock()
		if d.broken || q.done.Len() > 0 {
			d.mu.Unlock()
			return true
		}
		ch := q.changed
		d.mu.Unlock()

		select {
		case <-ch:
			d.mu.Lock()
			stopped := !q.running && q.done.Len() == 0
			d.mu.Unlock()
			if stopped {
				return false
			}
		case <-timer.C:
			return false
		}
	}
}

// Register 预先登记输出缓冲
func (q *bufferQueue) Register(planes []device.Plane) error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if !q.output {
		return device.ErrUnsupported
	}
	if q.count == 0 {
		return device.ErrNotConfigured
	}
	if err := q.checkPlanes(planes); err != nil {
		return err
	}
	q.registered++
	return nil
}

// ApplyRegistered 使登记生效
func (q *bufferQueue) ApplyRegistered() error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.registered == 0 {
		return device.ErrNotConfigured
	}
	d.logger.Debugf("%s %d output buffers registered", Name, q.registered)
	return nil
}

// ClearRegistered 清除登记
func (q *bufferQueue) ClearRegistered() {
	q.d.mu.Lock()
	q.registered = 0
	q.d.mu.Unlock()
}

// ClearQueue 丢弃队列中尚未处理的缓冲
func (q *bufferQueue) ClearQueue() {
	q.d.mu.Lock()
	q.clear()
	q.signal()
	q.d.mu.Unlock()
}

// Cleanup 释放缓冲槽
func (q *bufferQueue) Cleanup() error {
	d := q.d
	d.mu.Lock()
	defer d.mu.Unlock()

	q.clear()
	q.reset()
	return nil
}
