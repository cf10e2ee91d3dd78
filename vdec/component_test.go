// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// loopback 把每个码流缓冲变成一幅 I420 图像，亮度值取时间戳的低 8 位
type loopback struct {
	c       *Component
	decoded chan Data
	done    chan *omx.BufferHeader
	free    chan *CodecBuffer
	inits   int32
	terms   int32
	inputs  int32
}

func newLoopback() *loopback {
	return &loopback{
		decoded: make(chan Data, 64),
		done:    make(chan *omx.BufferHeader, 64),
		free:    make(chan *CodecBuffer, 64),
	}
}

func (l *loopback) Name() string { return "loopback" }

func (l *loopback) Init(c *Component) error {
	atomic.AddInt32(&l.inits, 1)
	l.c = c
	if c.Port(omx.InputPortIndex).Mode().Is(ModeCopy) {
		// 输入编解码缓冲全部由引擎持有，不放入空闲队列
		if err := c.AllocateCodecBuffers(omx.InputPortIndex, 2, []int{inputBufferSize}); err != nil {
			return err
		}
		c.Port(omx.InputPortIndex).CodecQueue().Reset()
	}
	out := c.Port(omx.OutputPortIndex)
	out.SetPlanes(3)
	if !out.Mode().Is(ModeCopy) {
		return nil
	}
	w, h := DefaultFrameWidth, DefaultFrameHeight
	if err := c.AllocateCodecBuffers(omx.OutputPortIndex, 4, []int{w * h, w * h / 4, w * h / 4}); err != nil {
		return err
	}
	out.CodecQueue().Reset()
	for _, cb := range c.CodecBuffers(omx.OutputPortIndex) {
		out.CodecQueue().Enqueue(cb)
	}
	return nil
}

func (l *loopback) Terminate() error {
	atomic.AddInt32(&l.terms, 1)
	l.drain()
	for len(l.free) > 0 {
		<-l.free
	}
	l.c.FreeCodecBuffers(omx.OutputPortIndex)
	l.c.Port(omx.OutputPortIndex).CodecQueue().Reset()
	return nil
}

func (l *loopback) drain() {
	for len(l.decoded) > 0 {
		<-l.decoded
	}
	for len(l.done) > 0 {
		<-l.done
	}
}

func (l *loopback) SrcInputProcess(d *Data) error {
	atomic.AddInt32(&l.inputs, 1)
	if d.Header == nil {
		return nil
	}
	l.decoded <- Data{Timestamp: d.Timestamp, Flags: d.Flags, DataLen: d.DataLen}
	l.done <- d.Header
	return nil
}

func (l *loopback) SrcOutputProcess(d *Data) error {
	select {
	case hdr := <-l.done:
		d.Header = hdr
		return nil
	case <-time.After(l.c.PauseMaxWait()):
		return ErrNoPicture
	}
}

func (l *loopback) DstInputProcess(d *Data) error {
	if cb := d.CodecBuffer(); cb != nil {
		l.free <- cb
	}
	return nil
}

func (l *loopback) DstOutputProcess(d *Data) error {
	var cb *CodecBuffer
	select {
	case cb = <-l.free:
	case <-time.After(l.c.PauseMaxWait()):
		return ErrNoPicture
	}
	var in Data
	select {
	case in = <-l.decoded:
	case <-time.After(l.c.PauseMaxWait()):
		l.free <- cb
		return ErrNoPicture
	}

	w, h := DefaultFrameWidth, DefaultFrameHeight
	for i := range cb.Planes[0].Addr {
		cb.Planes[0].Addr[i] = byte(in.Timestamp)
	}
	for _, p := range cb.Planes[1:] {
		for i := range p.Addr {
			p.Addr[i] = 128
		}
	}
	codecBufferToData(cb, d, omx.OutputPortIndex)
	d.Ext = DataExt{Width: w, Height: h, Stride: w, ColorFormat: omx.ColorFormatYUV420Planar}
	d.Timestamp = in.Timestamp
	d.Flags = in.Flags
	if in.DataLen > 0 {
		d.RemainDataLen = w * h * 3 / 2
	}
	return nil
}

func (l *loopback) Start(port int) {}

func (l *loopback) Stop(port int) {
	if port == omx.InputPortIndex {
		l.drain()
	}
}

func (l *loopback) BufferProcessRun(port int) {}

func (l *loopback) EnqueueAllBuffer(port int) {
	if port != omx.OutputPortIndex {
		return
	}
	for len(l.free) > 0 {
		<-l.free
	}
	q := l.c.Port(port).CodecQueue()
	q.Reset()
	for _, cb := range l.c.CodecBuffers(port) {
		q.Enqueue(cb)
	}
}

func (l *loopback) ReconfigAllBuffers(port int) error { return nil }

func (l *loopback) CheckResolutionChange() error { return nil }

func (l *loopback) CheckFormatSupport(f omx.ColorFormat) bool { return false }

type event struct {
	typ          omx.EventType
	data1, data2 uint32
	data         interface{}
}

// client 模拟框架
type client struct {
	t       *testing.T
	c       *Component
	codec   *loopback
	events  chan event
	emptied chan *omx.BufferHeader
	filled  chan *omx.BufferHeader
	in, out []*omx.BufferHeader
	pending []event
}

func newClient(t *testing.T, opts ...Option) *client {
	cl := &client{
		t:       t,
		codec:   newLoopback(),
		events:  make(chan event, 256),
		emptied: make(chan *omx.BufferHeader, 256),
		filled:  make(chan *omx.BufferHeader, 256),
	}
	cb := CallbackFuncs{
		OnEvent: func(c *Component, e omx.EventType, data1, data2 uint32, data interface{}) {
			cl.events <- event{e, data1, data2, data}
		},
		OnEmptyDone: func(c *Component, hdr *omx.BufferHeader) { cl.emptied <- hdr },
		OnFillDone:  func(c *Component, hdr *omx.BufferHeader) { cl.filled <- hdr },
	}
	opts = append([]Option{PauseMaxWait(20 * time.Millisecond)}, opts...)
	cl.c = New("test", cl.codec, cb, opts...)
	t.Cleanup(func() { cl.c.Close() })
	return cl
}

func (cl *client) nextEvent(match func(e event) bool) event {
	cl.t.Helper()
	for i, e := range cl.pending {
		if match(e) {
			cl.pending = append(cl.pending[:i], cl.pending[i+1:]...)
			return e
		}
	}

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case e := <-cl.events:
			if match(e) {
				return e
			}
			cl.pending = append(cl.pending, e)
		case <-timer.C:
			cl.t.Fatal("wait event timeout")
			return event{}
		}
	}
}

func (cl *client) waitEvent(typ omx.EventType, data1, data2 uint32) {
	cl.t.Helper()
	cl.nextEvent(func(e event) bool {
		return e.typ == typ && e.data1 == data1 && e.data2 == data2
	})
}

func (cl *client) allocate(port int) []*omx.BufferHeader {
	cl.t.Helper()
	p := cl.c.Port(port)
	require.Eventually(cl.t, func() bool { return p.State() == omx.StateIdle },
		waitTimeout, time.Millisecond)
	def := p.Definition()
	hdrs := make([]*omx.BufferHeader, def.BufferCountActual)
	for i := range hdrs {
		hdr, err := cl.c.AllocateBuffer(port, i, def.BufferSize)
		require.NoError(cl.t, err)
		hdrs[i] = hdr
	}
	return hdrs
}

func (cl *client) setState(s omx.State) {
	cl.t.Helper()
	require.NoError(cl.t, cl.c.SendCommand(omx.CommandStateSet, int(s), nil))
}

// execute Loaded -> Idle -> Executing，并把输出缓冲交给组件
func (cl *client) execute() {
	cl.t.Helper()
	cl.setState(omx.StateIdle)
	cl.in = cl.allocate(omx.InputPortIndex)
	cl.out = cl.allocate(omx.OutputPortIndex)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateIdle))
	assert.Equal(cl.t, omx.StateIdle, cl.c.State())

	cl.setState(omx.StateExecuting)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateExecuting))
	for _, hdr := range cl.out {
		require.NoError(cl.t, cl.c.FillThisBuffer(hdr))
	}
}

// empty 依次用输入缓冲送入 n 个码流，最后一个带 EOS
func (cl *client) empty(n int, eos bool) {
	cl.t.Helper()
	free := append([]*omx.BufferHeader(nil), cl.in...)
	for i := 0; i < n; i++ {
		var hdr *omx.BufferHeader
		if len(free) > 0 {
			hdr, free = free[0], free[1:]
		} else {
			select {
			case hdr = <-cl.emptied:
			case <-time.After(waitTimeout):
				cl.t.Fatal("input buffer is not returned")
			}
		}
		hdr.Buffer[0] = byte(i)
		hdr.FilledLen = 16
		hdr.Timestamp = int64(i+1) * 1000
		hdr.Flags = omx.BufferFlagEndOfFrame
		if eos && i == n-1 {
			hdr.Flags |= omx.BufferFlagEOS
		}
		require.NoError(cl.t, cl.c.EmptyThisBuffer(hdr))
	}
}

// collect 收集 n 幅图像，遇到 EOS 提前结束
func (cl *client) collect(n int) (frames []omx.BufferHeader) {
	cl.t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for len(frames) < n {
		select {
		case hdr := <-cl.filled:
			if hdr.FilledLen == 0 && hdr.Flags&omx.BufferFlagEOS == 0 {
				require.NoError(cl.t, cl.c.FillThisBuffer(hdr))
				continue
			}
			frame := *hdr
			frame.Buffer = append([]byte(nil), hdr.Buffer[:hdr.FilledLen]...)
			frames = append(frames, frame)
			if hdr.Flags&omx.BufferFlagEOS != 0 {
				return
			}
			require.NoError(cl.t, cl.c.FillThisBuffer(hdr))
		case <-timer.C:
			cl.t.Fatalf("collect frames timeout, got %d", len(frames))
		}
	}
	return
}

// returned 等待组件归还 n 个缓冲
func returned(t *testing.T, ch chan *omx.BufferHeader, n int) []*omx.BufferHeader {
	t.Helper()
	var hdrs []*omx.BufferHeader
	for len(hdrs) < n {
		select {
		case hdr := <-ch:
			hdrs = append(hdrs, hdr)
		case <-time.After(waitTimeout):
			t.Fatalf("buffers are not returned, got %d of %d", len(hdrs), n)
		}
	}
	return hdrs
}

func TestComponent_Decode(t *testing.T) {
	cl := newClient(t)
	cl.execute()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cl.codec.inits))

	const n = 6
	cl.empty(n, true)
	frames := cl.collect(n)
	require.Len(t, frames, n)

	w, h := DefaultFrameWidth, DefaultFrameHeight
	for i, f := range frames {
		ts := int64(i+1) * 1000
		assert.Equal(t, ts, f.Timestamp)
		assert.Equal(t, uint32(w*h*3/2), f.FilledLen)
		assert.Equal(t, byte(ts), f.Buffer[0])
		assert.Equal(t, byte(128), f.Buffer[w*h])
		assert.Equal(t, i == n-1, f.Flags&omx.BufferFlagEOS != 0)
	}
	cl.waitEvent(omx.EventBufferFlag, omx.OutputPortIndex, frames[n-1].Flags)

	info := cl.c.Info()
	assert.Equal(t, "test", info.Name)
	assert.Equal(t, "loopback", info.Codec)
	assert.Equal(t, "Executing", info.State)
	assert.Len(t, info.Ports, omx.PortNum)
}

func TestComponent_Flush(t *testing.T) {
	cl := newClient(t)
	cl.execute()

	require.NoError(t, cl.c.SendCommand(omx.CommandFlush, omx.AllPortIndex, nil))
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.InputPortIndex)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.OutputPortIndex)
	// 输出缓冲全部空着归还
	for _, hdr := range returned(t, cl.filled, len(cl.out)) {
		assert.Zero(t, hdr.FilledLen)
	}

	// 没有持有缓冲时重复冲刷
	require.NoError(t, cl.c.SendCommand(omx.CommandFlush, omx.OutputPortIndex, nil))
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.OutputPortIndex)
	assert.Len(t, cl.filled, 0)

	for _, hdr := range cl.out {
		require.NoError(t, cl.c.FillThisBuffer(hdr))
	}
	cl.empty(3, true)
	frames := cl.collect(3)
	require.Len(t, frames, 3)
	assert.Equal(t, int64(1000), frames[0].Timestamp)
	assert.NotZero(t, frames[2].Flags&omx.BufferFlagEOS)
}

func TestComponent_FlushWhileWaitingCodecBuffer(t *testing.T) {
	cl := newClient(t, InputMode(ModeCopy))
	cl.execute()
	in := cl.c.Port(omx.InputPortIndex)
	require.Len(t, cl.c.CodecBuffers(omx.InputPortIndex), 2)
	require.Zero(t, in.CodecQueue().Len())

	hdr := cl.in[0]
	hdr.FilledLen = 16
	hdr.Timestamp = 1000
	hdr.Flags = omx.BufferFlagEndOfFrame
	require.NoError(t, cl.c.EmptyThisBuffer(hdr))
	// 输入协程阻塞在取编解码缓冲上
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cl.c.SendCommand(omx.CommandFlush, omx.InputPortIndex, nil))
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.InputPortIndex)
	assert.Equal(t, []*omx.BufferHeader{hdr}, returned(t, cl.emptied, 1))
	assert.Zero(t, atomic.LoadInt32(&cl.codec.inputs))
	assert.Zero(t, in.CodecQueue().Len())
	assert.False(t, in.Flushing())

	// 关闭时阻塞的协程被唤醒并退出
	closed := make(chan error, 1)
	go func() { closed <- cl.c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("close blocks on waiting codec buffer")
	}
	assert.Zero(t, atomic.LoadInt32(&cl.codec.inputs))
	assert.Equal(t, omx.StateLoaded, cl.c.State())
}

func TestComponent_StateTransitions(t *testing.T) {
	cl := newClient(t)
	c := cl.c

	_, err := c.AllocateBuffer(omx.InputPortIndex, nil, 16)
	assert.Equal(t, omx.ErrorIncorrectStateOperation, err)
	assert.Equal(t, omx.ErrorIncorrectStateOperation, c.EmptyThisBuffer(&omx.BufferHeader{}))
	assert.Equal(t, omx.ErrorBadParameter, c.SendCommand(omx.CommandFlush, 5, nil))
	assert.Equal(t, omx.ErrorBadParameter, c.SendCommand(omx.CommandMarkBuffer, 0, nil))
	assert.Equal(t, omx.ErrorBadParameter, c.SendCommand(omx.Command(99), 0, nil))

	cl.execute()
	assert.Equal(t, omx.ErrorInvalidState, c.FreeBuffer(omx.InputPortIndex, cl.in[0]))
	cl.nextEvent(func(e event) bool { return e.typ == omx.EventError })

	// Executing -> Pause -> Executing
	cl.setState(omx.StatePause)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StatePause))
	assert.Equal(t, omx.StatePause, c.State())
	cl.setState(omx.StateExecuting)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateExecuting))

	// 相同状态
	cl.setState(omx.StateExecuting)
	e := cl.nextEvent(func(e event) bool { return e.typ == omx.EventError })
	assert.Equal(t, uint32(omx.ErrorIncorrectStateOperation), e.data1)

	// Executing -> Idle 归还全部输出缓冲
	cl.setState(omx.StateIdle)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateIdle))
	returned(t, cl.filled, len(cl.out))

	// Idle -> Loaded 等待框架释放缓冲
	cl.setState(omx.StateLoaded)
	for _, port := range []int{omx.InputPortIndex, omx.OutputPortIndex} {
		p := c.Port(port)
		require.Eventually(t, func() bool { return p.State() == omx.StateLoaded },
			waitTimeout, time.Millisecond)
	}
	for _, hdr := range cl.in {
		require.NoError(t, c.FreeBuffer(omx.InputPortIndex, hdr))
	}
	for _, hdr := range cl.out {
		require.NoError(t, c.FreeBuffer(omx.OutputPortIndex, hdr))
	}
	assert.Equal(t, omx.ErrorBadParameter, c.FreeBuffer(omx.OutputPortIndex, cl.out[0]))
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateLoaded))
	assert.Equal(t, omx.StateLoaded, c.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cl.codec.terms))
	assert.Zero(t, c.Allocator().Count())
}

func TestComponent_PortDisableEnable(t *testing.T) {
	cl := newClient(t)
	cl.execute()
	c := cl.c
	out := c.Port(omx.OutputPortIndex)

	require.NoError(t, c.SendCommand(omx.CommandPortDisable, omx.OutputPortIndex, nil))
	require.Eventually(t, func() bool { return !out.Enabled() }, waitTimeout, time.Millisecond)
	returned(t, cl.filled, len(cl.out))
	assert.Equal(t, omx.ErrorIncorrectStateOperation, c.FillThisBuffer(cl.out[0]))
	for _, hdr := range cl.out {
		require.NoError(t, c.FreeBuffer(omx.OutputPortIndex, hdr))
	}
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandPortDisable), omx.OutputPortIndex)
	assert.False(t, out.Populated())

	require.NoError(t, c.SendCommand(omx.CommandPortEnable, omx.OutputPortIndex, nil))
	cl.out = cl.allocate(omx.OutputPortIndex)
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandPortEnable), omx.OutputPortIndex)
	assert.True(t, out.Enabled())
	assert.Equal(t, ExceptionGeneral, out.Exception())

	for _, hdr := range cl.out {
		require.NoError(t, c.FillThisBuffer(hdr))
	}
	cl.empty(2, true)
	frames := cl.collect(2)
	require.Len(t, frames, 2)
	assert.Equal(t, int64(2000), frames[1].Timestamp)
}

func TestComponent_MarkBuffer(t *testing.T) {
	cl := newClient(t)
	cl.execute()
	c := cl.c

	require.NoError(t, c.SendCommand(omx.CommandMarkBuffer, omx.InputPortIndex,
		&omx.Mark{Target: c, Data: "first"}))
	cl.waitEvent(omx.EventCmdComplete, uint32(omx.CommandMarkBuffer), omx.InputPortIndex)

	cl.empty(1, false)
	e := cl.nextEvent(func(e event) bool { return e.typ == omx.EventMark })
	assert.Equal(t, "first", e.data)
}

func TestComponent_Close(t *testing.T) {
	cl := newClient(t)
	cl.execute()
	require.NoError(t, cl.c.Close())
	require.NoError(t, cl.c.Close())
	assert.Equal(t, omx.StateLoaded, cl.c.State())
	assert.Equal(t, omx.ErrorInvalidState, cl.c.SendCommand(omx.CommandStateSet, int(omx.StateIdle), nil))
}
