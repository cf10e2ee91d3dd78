// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/source"
	"github.com/cnotch/vdec/stats"
	"github.com/cnotch/vdec/vdec"
	"github.com/cnotch/vdec/vdec/h264"
	"github.com/cnotch/xlog"
	"golang.org/x/sync/errgroup"
)

const (
	minInputBufferSize = 1 << 20
	commandTimeout     = 5 * time.Second
	pollInterval       = time.Millisecond
	backlog            = 256

	inputFlags = omx.BufferFlagEOS | omx.BufferFlagEndOfFrame | omx.BufferFlagCodecConfig
)

// 错误定义
var (
	// ErrNotRunning 实例没有在运行
	ErrNotRunning = errors.New("pipeline is not running")
	// ErrTimeout 等待组件完成命令超时
	ErrTimeout = errors.New("wait for decoder timeout")
	// ErrFrameTooLarge 帧超过输入缓冲
	ErrFrameTooLarge = errors.New("frame is larger than input buffer")
)

// 运行状态
const (
	StatusCreated int32 = iota
	StatusRunning
	StatusPaused
	StatusFinished // 来源结束，全部图像已输出
	StatusFailed
	StatusClosed
)

var statusNames = [...]string{"created", "running", "paused", "finished", "failed", "closed"}

// StatusName 状态名称
func StatusName(s int32) string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

type event struct {
	typ          omx.EventType
	data1, data2 uint32
}

type request struct {
	fn   func() error
	done chan error
}

// Pipeline 把一个码流来源接到 H.264 解码组件上，解码的图像交给 Sink。
//
// 组件的状态切换、缓冲登记和端口重新配置都在运行协程中完成，
// 外部的控制请求也被转交给运行协程执行。
type Pipeline struct {
	id      ID
	key     string
	startOn time.Time
	src     source.Source
	sink    Sink
	c       *vdec.Component
	frames  stats.Frames
	logger  *xlog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	status    int32
	err       error // done 关闭后有效
	lastTs    int64

	events   chan event
	emptied  chan *omx.BufferHeader // 空闲的输入缓冲
	filled   chan *omx.BufferHeader
	requests chan *request

	// 以下只在运行协程中访问
	in, out  []*omx.BufferHeader
	pending  []event
	returned []*omx.BufferHeader // 等待命令期间收到的图像
	held     []*omx.BufferHeader // 暂时无法交还组件的输出缓冲
	eos      bool
}

// New 创建解码实例，engine 打开解码引擎，sink 为 nil 时丢弃图像
func New(src source.Source, sink Sink, engine h264.Opener, opts ...vdec.Option) *Pipeline {
	if sink == nil {
		sink = Discard
	}
	p := &Pipeline{
		id:       NewID(),
		startOn:  time.Now(),
		src:      src,
		sink:     sink,
		frames:   stats.NewFrames(),
		done:     make(chan struct{}),
		events:   make(chan event, backlog),
		emptied:  make(chan *omx.BufferHeader, backlog),
		filled:   make(chan *omx.BufferHeader, backlog),
		requests: make(chan *request),
	}
	p.key = p.id.Key(p.startOn, src.Name())
	p.logger = xlog.L().With(xlog.Fields(
		xlog.F("pipeline", p.id.String()),
		xlog.F("source", src.Name())))
	p.ctx, p.cancel = context.WithCancel(context.Background())

	cb := vdec.CallbackFuncs{
		OnEvent:     p.onEvent,
		OnEmptyDone: func(_ *vdec.Component, hdr *omx.BufferHeader) { p.emptied <- hdr },
		OnFillDone:  func(_ *vdec.Component, hdr *omx.BufferHeader) { p.filled <- hdr },
	}
	opts = append([]vdec.Option{vdec.Logger(p.logger)}, opts...)
	p.c = h264.NewComponent(engine, cb, opts...)
	return p
}

// ID 实例编号
func (p *Pipeline) ID() ID { return p.id }

// Key 实例的不透明键
func (p *Pipeline) Key() string { return p.key }

// Source 码流来源
func (p *Pipeline) Source() source.Source { return p.src }

// Component 解码组件
func (p *Pipeline) Component() *vdec.Component { return p.c }

// SetSink 替换图像的去处，只能在 Start 之前调用
func (p *Pipeline) SetSink(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	p.sink = sink
}

// Status 当前状态
func (p *Pipeline) Status() int32 { return atomic.LoadInt32(&p.status) }

// Done 运行结束时关闭
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait 等待运行结束，来源正常结束时返回 nil
func (p *Pipeline) Wait() error {
	<-p.done
	return p.err
}

// Start 启动运行协程
func (p *Pipeline) Start() error {
	if !atomic.CompareAndSwapInt32(&p.status, StatusCreated, StatusRunning) {
		return ErrNotRunning
	}
	p.logger.Info("pipeline started")
	go p.run()
	return nil
}

// Close 停止运行并释放组件，阻塞到运行协程退出
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.src.Close()
		if atomic.CompareAndSwapInt32(&p.status, StatusCreated, StatusClosed) {
			p.c.Close()
			p.sink.Close()
			close(p.done)
		}
	})
	<-p.done
	return nil
}

func (p *Pipeline) onEvent(_ *vdec.Component, typ omx.EventType, data1, data2 uint32, _ interface{}) {
	publish(newEvent(p, typ, data1, data2))
	select {
	case p.events <- event{typ, data1, data2}:
	default:
		p.logger.Warnf("event backlog is full, drop %s(%d, %d)", typ, data1, data2)
	}
}

func (p *Pipeline) run() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("pipeline routine panic；r = %v \n %s", r, debug.Stack())
			err = fmt.Errorf("pipeline panic: %v", r)
		}

		p.shutdown()

		status := StatusFinished
		switch {
		case p.ctx.Err() != nil:
			status = StatusClosed
			err = nil
		case err != nil:
			status = StatusFailed
			p.logger.Errorf("pipeline failed: %v", err)
		}
		p.err = err
		atomic.StoreInt32(&p.status, status)
		p.logger.Infof("pipeline %s, frames: %+v", StatusName(status), p.frames.GetSample())
		close(p.done)
	}()

	if err = p.execute(); err != nil {
		return
	}

	g, ctx := errgroup.WithContext(p.ctx)
	g.Go(func() error { return p.feed(ctx) })
	g.Go(func() error {
		err := p.collect(ctx)
		if err != nil {
			// 唤醒阻塞在来源上的读取
			p.src.Close()
		}
		return err
	})
	err = g.Wait()
}

// execute Loaded -> Idle -> Executing，登记全部缓冲并交出输出缓冲
func (p *Pipeline) execute() (err error) {
	c := p.c
	if err = c.SendCommand(omx.CommandStateSet, int(omx.StateIdle), nil); err != nil {
		return
	}
	if p.in, err = p.allocate(omx.InputPortIndex); err != nil {
		return
	}
	if p.out, err = p.allocate(omx.OutputPortIndex); err != nil {
		return
	}
	if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateIdle)); err != nil {
		return
	}

	if err = c.SendCommand(omx.CommandStateSet, int(omx.StateExecuting), nil); err != nil {
		return
	}
	if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateExecuting)); err != nil {
		return
	}

	for _, hdr := range p.in {
		p.emptied <- hdr
	}
	return p.fillAll()
}

// shutdown Executing -> Idle -> Loaded，释放登记的缓冲后关闭组件
func (p *Pipeline) shutdown() {
	c := p.c
	if s := c.State(); s == omx.StateExecuting || s == omx.StatePause {
		if err := c.SendCommand(omx.CommandStateSet, int(omx.StateIdle), nil); err == nil {
			if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateIdle)); err != nil {
				p.logger.Warnf("wait decoder idle failed: %v", err)
			}
		}
	}

	if c.State() == omx.StateIdle {
		if err := c.SendCommand(omx.CommandStateSet, int(omx.StateLoaded), nil); err == nil {
			p.release(omx.InputPortIndex, p.in)
			p.release(omx.OutputPortIndex, p.out)
			if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateLoaded)); err != nil {
				p.logger.Warnf("wait decoder loaded failed: %v", err)
			}
		}
	}
	p.in, p.out = nil, nil

	c.Close()
	p.src.Close()
	if err := p.sink.Close(); err != nil {
		p.logger.Warnf("close sink failed: %v", err)
	}
}

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(commandTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// allocate 端口进入 Idle 后按端口定义分配缓冲，失败时返回已分配的部分
func (p *Pipeline) allocate(port int) ([]*omx.BufferHeader, error) {
	pt := p.c.Port(port)
	if !waitUntil(func() bool { return pt.State() == omx.StateIdle }) {
		return nil, ErrTimeout
	}

	def := pt.Definition()
	size := def.BufferSize
	if port == omx.InputPortIndex && size < minInputBufferSize {
		size = minInputBufferSize
	}
	hdrs := make([]*omx.BufferHeader, 0, def.BufferCountActual)
	for i := 0; i < def.BufferCountActual; i++ {
		hdr, err := p.c.AllocateBuffer(port, p, size)
		if err != nil {
			return hdrs, err
		}
		hdrs = append(hdrs, hdr)
	}
	p.logger.Debugf("port %d: %d buffers of %d bytes", port, len(hdrs), size)
	return hdrs, nil
}

func (p *Pipeline) release(port int, hdrs []*omx.BufferHeader) {
	pt := p.c.Port(port)
	if !waitUntil(func() bool {
		s := pt.State()
		return s == omx.StateLoaded || s == omx.StateInvalid || !pt.Enabled()
	}) {
		p.logger.Warnf("port %d is not unloaded", port)
		return
	}
	for _, hdr := range hdrs {
		if err := p.c.FreeBuffer(port, hdr); err != nil {
			p.logger.Warnf("free buffer on port %d failed: %v", port, err)
		}
	}
}

// waitEvent 等待指定事件。期间的其他事件留给运行循环，收到的图像暂存。
func (p *Pipeline) waitEvent(typ omx.EventType, data1, data2 uint32) error {
	for i, e := range p.pending {
		if e.typ == typ && e.data1 == data1 && e.data2 == data2 {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return nil
		}
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	for {
		select {
		case e := <-p.events:
			if e.typ == typ && e.data1 == data1 && e.data2 == data2 {
				return nil
			}
			// 状态切换失败不会有完成事件
			if e.typ == omx.EventError && typ == omx.EventCmdComplete &&
				data1 == uint32(omx.CommandStateSet) &&
				p.c.State() != omx.State(data2) && p.c.TransState() == omx.TransStateInvalid {
				return omx.Error(e.data1)
			}
			p.pending = append(p.pending, e)
		case hdr := <-p.filled:
			p.returned = append(p.returned, hdr)
		case <-timer.C:
			p.logger.Warnf("wait event %s(%d, %d) timeout", typ, data1, data2)
			return ErrTimeout
		}
	}
}

func (p *Pipeline) fillAll() error {
	for _, hdr := range p.out {
		if err := p.fill(hdr); err != nil {
			return err
		}
	}
	return nil
}

// fill 交还输出缓冲，端口冲刷或禁用期间暂存
func (p *Pipeline) fill(hdr *omx.BufferHeader) error {
	err := p.c.FillThisBuffer(hdr)
	if err == omx.ErrorIncorrectStateOperation {
		p.held = append(p.held, hdr)
		return nil
	}
	return err
}

// reconfigOutput 按端口设置改变事件重建输出缓冲
func (p *Pipeline) reconfigOutput() (err error) {
	c := p.c
	out := c.Port(omx.OutputPortIndex)
	p.logger.Infof("reconfigure output port, %dx%d",
		out.Definition().FrameWidth, out.Definition().FrameHeight)

	if err = c.SendCommand(omx.CommandPortDisable, omx.OutputPortIndex, nil); err != nil {
		return
	}
	if !waitUntil(func() bool { return !out.Enabled() }) {
		return ErrTimeout
	}
	for _, hdr := range p.out {
		if err = c.FreeBuffer(omx.OutputPortIndex, hdr); err != nil {
			return
		}
	}
	p.out = nil
	if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandPortDisable), omx.OutputPortIndex); err != nil {
		return
	}

	// 丢弃冲刷时归还的缓冲
	for len(p.filled) > 0 {
		p.returned = append(p.returned, <-p.filled)
	}
	for _, hdr := range p.returned {
		if hdr.Flags&omx.BufferFlagEOS != 0 {
			p.eos = true
		}
	}
	p.returned = p.returned[:0]
	p.held = p.held[:0]

	if err = c.SendCommand(omx.CommandPortEnable, omx.OutputPortIndex, nil); err != nil {
		return
	}
	p.out, err = p.allocate(omx.OutputPortIndex)
	if err != nil {
		return
	}
	if err = p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandPortEnable), omx.OutputPortIndex); err != nil {
		return
	}
	return p.fillAll()
}

// collect 输出图像直到 EOS，期间处理事件和控制请求
func (p *Pipeline) collect(ctx context.Context) error {
	for {
		if err := p.drain(); err != nil {
			return err
		}
		if p.eos {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case hdr := <-p.filled:
			if err := p.onFilled(hdr); err != nil {
				return err
			}
		case e := <-p.events:
			if err := p.handle(e); err != nil {
				return err
			}
		case r := <-p.requests:
			r.done <- r.fn()
		}
	}
}

// drain 处理等待命令期间积压的事件和缓冲
func (p *Pipeline) drain() error {
	for len(p.pending) > 0 {
		e := p.pending[0]
		p.pending = p.pending[1:]
		if err := p.handle(e); err != nil {
			return err
		}
	}
	for len(p.returned) > 0 {
		hdr := p.returned[0]
		p.returned = p.returned[1:]
		if err := p.onFilled(hdr); err != nil {
			return err
		}
	}

	out := p.c.Port(omx.OutputPortIndex)
	if len(p.held) > 0 && out.Enabled() && !out.Flushing() {
		held := p.held
		p.held = nil
		for _, hdr := range held {
			if err := p.fill(hdr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) handle(e event) error {
	switch e.typ {
	case omx.EventPortSettingsChanged:
		if e.data1 != omx.OutputPortIndex {
			break
		}
		if e.data2 == omx.IndexConfigCommonOutputCrop {
			p.logger.Infof("output crop changed: %+v", p.c.Port(omx.OutputPortIndex).Crop())
			break
		}
		return p.reconfigOutput()
	case omx.EventError:
		p.frames.AddError()
		p.logger.Warnf("decoder error: %v", omx.Error(e.data1))
		if p.c.State() == omx.StateInvalid {
			return omx.ErrorInvalidState
		}
	case omx.EventBufferFlag:
		p.logger.Infof("port %d buffer flag %s", e.data1, omx.FlagsString(e.data2))
	default:
		p.logger.Debugf("event %s(%d, %d)", e.typ, e.data1, e.data2)
	}
	return nil
}

func (p *Pipeline) onFilled(hdr *omx.BufferHeader) error {
	if hdr.Buffer == nil { // 已释放
		return nil
	}

	if hdr.FilledLen > 0 {
		if err := p.deliver(hdr); err != nil {
			return err
		}
	}
	if hdr.Flags&omx.BufferFlagEOS != 0 {
		p.eos = true
		p.logger.Infof("end of stream at %d", hdr.Timestamp)
		return nil
	}
	return p.fill(hdr)
}

func (p *Pipeline) deliver(hdr *omx.BufferHeader) error {
	out := p.c.Port(omx.OutputPortIndex)
	def := out.Definition()
	pic := Picture{
		Data:        hdr.Payload(),
		Timestamp:   hdr.Timestamp,
		Flags:       hdr.Flags,
		Width:       def.FrameWidth,
		Height:      def.FrameHeight,
		Stride:      def.Stride,
		SliceHeight: def.SliceHeight,
		ColorFormat: def.ColorFormat,
		Crop:        out.Crop(),
	}
	if err := p.sink.WritePicture(&pic); err != nil {
		return err
	}
	p.frames.AddOut()
	atomic.StoreInt64(&p.lastTs, hdr.Timestamp)
	p.logger.Debugf("picture %d, flags %s", hdr.Timestamp, omx.FlagsString(hdr.Flags))
	return nil
}

// feed 从来源读帧送入组件。预读一帧，来源结束时最后一帧带上 EOS；
// 来源没有任何帧时送入空的 EOS 缓冲。
func (p *Pipeline) feed(ctx context.Context) error {
	var prev *source.Frame
	for {
		f, err := p.src.ReadFrame(ctx)
		if err != nil && err != io.EOF {
			return err
		}

		if prev != nil {
			if err == io.EOF {
				prev.Flags |= omx.BufferFlagEOS
			}
			if serr := p.submit(ctx, prev); serr != nil {
				return serr
			}
		}
		if err == io.EOF {
			if prev == nil {
				return p.submit(ctx, &source.Frame{Flags: omx.BufferFlagEOS})
			}
			return nil
		}
		prev = f
	}
}

func (p *Pipeline) submit(ctx context.Context, f *source.Frame) error {
	hdr, err := p.nextInput(ctx)
	if err != nil {
		return err
	}

	data := f.Data
	if len(data) > len(hdr.Buffer) {
		p.logger.Warnf("drop frame at %d: %v", f.Timestamp, ErrFrameTooLarge)
		p.frames.AddDrop()
		if f.Flags&omx.BufferFlagEOS == 0 {
			p.emptied <- hdr
			return nil
		}
		data = nil
	}

	hdr.Offset = 0
	hdr.FilledLen = uint32(copy(hdr.Buffer, data))
	hdr.Timestamp = f.Timestamp
	// 输入缓冲只携带帧边界和流标志，同步帧由解码输出标记
	hdr.Flags = f.Flags & inputFlags
	if len(data) == 0 {
		hdr.Flags = omx.BufferFlagEOS
	}
	if err = p.empty(hdr); err != nil {
		return err
	}

	if len(data) > 0 {
		p.frames.AddIn()
	}
	if hdr.Flags&omx.BufferFlagEOS != 0 {
		p.logger.Infof("source ended, EOS at %d", hdr.Timestamp)
	}
	return nil
}

func (p *Pipeline) nextInput(ctx context.Context) (*omx.BufferHeader, error) {
	select {
	case hdr := <-p.emptied:
		return hdr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// empty 送入码流缓冲，输入端口冲刷期间丢弃
func (p *Pipeline) empty(hdr *omx.BufferHeader) error {
	err := p.c.EmptyThisBuffer(hdr)
	if err == omx.ErrorIncorrectStateOperation && p.c.Port(omx.InputPortIndex).Flushing() {
		p.frames.AddDrop()
		p.emptied <- hdr
		return nil
	}
	return err
}

// do 在运行协程中执行控制请求
func (p *Pipeline) do(fn func() error) error {
	if s := p.Status(); s != StatusRunning && s != StatusPaused {
		return ErrNotRunning
	}
	r := &request{fn: fn, done: make(chan error, 1)}
	select {
	case p.requests <- r:
	case <-p.done:
		return ErrNotRunning
	}
	return <-r.done
}

// Flush 冲刷两个端口，丢弃在途的码流和图像
func (p *Pipeline) Flush() error {
	return p.do(func() error {
		if err := p.c.SendCommand(omx.CommandFlush, omx.AllPortIndex, nil); err != nil {
			return err
		}
		if err := p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.InputPortIndex); err != nil {
			return err
		}
		return p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandFlush), omx.OutputPortIndex)
	})
}

// Pause 暂停解码
func (p *Pipeline) Pause() error {
	return p.do(func() error {
		if err := p.setState(omx.StatePause); err != nil {
			return err
		}
		atomic.StoreInt32(&p.status, StatusPaused)
		return nil
	})
}

// Resume 恢复解码
func (p *Pipeline) Resume() error {
	return p.do(func() error {
		if err := p.setState(omx.StateExecuting); err != nil {
			return err
		}
		atomic.StoreInt32(&p.status, StatusRunning)
		return nil
	})
}

// RestartOutput 禁用再启用输出端口，重新分配图像缓冲
func (p *Pipeline) RestartOutput() error {
	return p.do(p.reconfigOutput)
}

func (p *Pipeline) setState(s omx.State) error {
	if p.c.State() == s {
		return nil
	}
	if err := p.c.SendCommand(omx.CommandStateSet, int(s), nil); err != nil {
		return err
	}
	return p.waitEvent(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(s))
}

// Info 实例信息
type Info struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	Source        string            `json:"source"`
	Status        string            `json:"status"`
	StartOn       string            `json:"start_on"`
	Duration      string            `json:"duration"`
	LastTimestamp int64             `json:"last_timestamp"`
	Frames        stats.FrameSample `json:"frames"`
	Flow          *stats.FlowSample `json:"flow,omitempty"`
	Error         string            `json:"error,omitempty"`
	Decoder       *vdec.Info        `json:"decoder,omitempty"`
}

// Info 返回实例快照，includeDecoder 时包含组件和端口信息
func (p *Pipeline) Info(includeDecoder bool) *Info {
	info := &Info{
		ID:            p.id.String(),
		Key:           p.key,
		Source:        p.src.Name(),
		Status:        StatusName(p.Status()),
		StartOn:       p.startOn.Format(time.RFC3339Nano),
		Duration:      time.Now().Sub(p.startOn).String(),
		LastTimestamp: atomic.LoadInt64(&p.lastTs),
		Frames:        p.frames.GetSample(),
	}
	if f, ok := p.src.(interface{ Flow() stats.FlowSample }); ok {
		flow := f.Flow()
		info.Flow = &flow
	}
	select {
	case <-p.done:
		if p.err != nil {
			info.Error = p.err.Error()
		}
	default:
	}
	if includeDecoder {
		info.Decoder = p.c.Info()
	}
	return info
}
