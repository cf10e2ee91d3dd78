// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package emul 用软件实现的 H.264 解码引擎。
//
// 引擎只解析参数集和片头：按 POC 重排图像、处理显示延迟、IDR、EOS 和
// 码流中途的分辨率改变，输出缓冲填充固定图案。用于没有硬件的环境和测试。
package emul

import (
	"sync"

	"github.com/cnotch/queue"
	"github.com/cnotch/vdec/av/h264"
	"github.com/cnotch/vdec/device"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/xlog"
)

// Name 引擎名称
const Name = "emul-h264"

// Option 引擎选项
type Option interface {
	apply(*Decoder)
}

type optionFunc func(*Decoder)

func (f optionFunc) apply(d *Decoder) { f(d) }

// WithLastFrame 最后一个图像以 LastFrame 状态输出
func WithLastFrame() Option {
	return optionFunc(func(d *Decoder) { d.info.LastFrameSupport = true })
}

// WithDynamicDPB 输出缓冲可动态注册
func WithDynamicDPB() Option {
	return optionFunc(func(d *Decoder) { d.info.DynamicDPB = true })
}

// WithFormats 支持的输出格式
func WithFormats(formats ...omx.ColorFormat) Option {
	return optionFunc(func(d *Decoder) { d.info.ColorFormats = formats })
}

// WithLogger 日志
func WithLogger(logger *xlog.Logger) Option {
	return optionFunc(func(d *Decoder) { d.logger = logger })
}

// picture 已解析待解码的图像，或者 EOS、分辨率改变标记
type picture struct {
	tag   int
	poc   int
	typ   device.FrameType
	idr   bool
	eos   bool
	sps   *h264.SPS // 非空表示分辨率改变
	frame *frame
}

// frame 输出队列中的一个空缓冲
type frame struct {
	planes  []device.Plane
	private interface{}
}

// Decoder 软件解码引擎
type Decoder struct {
	mu     sync.Mutex
	info   device.Info
	logger *xlog.Logger
	in     *bufferQueue
	out    *bufferQueue

	nextTag  int // 下一个输入缓冲的标签
	frameTag int // 最后出队的图像标签
	delay    int
	iframe   bool
	dts      bool

	sps      *h264.SPS // 最近解析的序列参数集
	queued   *h264.SPS // 已提交码流对应的序列参数集
	active   *h264.SPS // 输出队列当前使用的序列参数集
	format   omx.ColorFormat
	conf     device.Geometry
	reconfig bool // 等待输出队列重新配置

	prevPocMsb int
	prevPocLsb int
	decoded    int

	pending queue.Queue // *picture
	dpb     []*picture  // 已解码等待显示
	broken  bool
	closed  bool
}

var _ device.Decoder = (*Decoder)(nil)

// New 创建软件解码引擎
func New(opts ...Option) *Decoder {
	d := &Decoder{
		info:     device.Info{Name: Name},
		logger:   xlog.L(),
		delay:    -1,
		nextTag:  -1,
		frameTag: -1,
		format:   omx.ColorFormatYUV420SemiPlanar,
	}
	for _, opt := range opts {
		opt.apply(d)
	}
	if len(d.info.ColorFormats) == 0 {
		d.info.ColorFormats = []omx.ColorFormat{
			omx.ColorFormatYUV420SemiPlanar,
			omx.ColorFormatYUV420Planar,
		}
	}
	d.in = newBufferQueue(d, false)
	d.out = newBufferQueue(d, true)
	return d
}

// Open 创建引擎，可作为 h264.Opener
func Open(opts ...Option) func() (device.Decoder, error) {
	return func() (device.Decoder, error) {
		return New(opts...), nil
	}
}

// Info 引擎能力
func (d *Decoder) Info() device.Info {
	return d.info
}

// Finalize 关闭引擎
func (d *Decoder) Finalize() {
	d.mu.Lock()
	d.closed = true
	d.pending.Reset()
	d.dpb = nil
	d.in.reset()
	d.out.reset()
	d.mu.Unlock()
}

// Break 模拟引擎故障，之后出队都返回 ErrEIO
func (d *Decoder) Break() {
	d.mu.Lock()
	d.broken = true
	d.in.signal()
	d.out.signal()
	d.mu.Unlock()
}

// SetFrameTag 设置下一个输入缓冲的标签
func (d *Decoder) SetFrameTag(tag int) error {
	d.mu.Lock()
	d.nextTag = tag
	d.mu.Unlock()
	return nil
}

// FrameTag 最后出队的图像的标签
func (d *Decoder) FrameTag() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameTag
}

// SetDisplayDelay 解码后延迟显示的图像数
func (d *Decoder) SetDisplayDelay(delay int) error {
	if delay < 0 || delay > h264.MaxDpbFrames {
		return device.ErrUnsupported
	}
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
	return nil
}

// SetIFrameDecoding 只解码 I 图像
func (d *Decoder) SetIFrameDecoding() error {
	d.mu.Lock()
	d.iframe = true
	d.mu.Unlock()
	return nil
}

// EnableDTSMode 输入时间戳按解码顺序
func (d *Decoder) EnableDTSMode() error {
	d.mu.Lock()
	d.dts = true
	d.mu.Unlock()
	return nil
}

// ActualDPB 当前码流需要的参考帧数量
func (d *Decoder) ActualDPB() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return 1
	}
	return int(d.active.MaxNumRefFrames) + 1
}

// CheckFormat 是否支持输出该格式
func (d *Decoder) CheckFormat(f omx.ColorFormat) bool {
	for _, cf := range d.info.ColorFormats {
		if cf == f {
			return true
		}
	}
	return false
}

// Input 输入队列
func (d *Decoder) Input() device.BufferOps { return d.in }

// Output 输出队列
func (d *Decoder) Output() device.BufferOps { return d.out }

// geometry 按序列参数集和输出格式计算输出队列的格式
func geometry(sps *h264.SPS, format omx.ColorFormat) device.Geometry {
	w, h := sps.MbWidth()*16, sps.MbHeight()*16
	left, top, cw, ch := sps.Crop()
	g := device.Geometry{
		FrameWidth:  w,
		FrameHeight: h,
		Stride:      w,
		PlaneCount:  device.PlaneCount(format),
		ColorFormat: format,
		Crop:        omx.Rect{Left: left, Top: top, Width: cw, Height: ch},
		Interlaced:  sps.Interlaced(),
	}
	switch g.PlaneCount {
	case 3:
		g.PlaneSize = [omx.MaxBufferPlane]int{w * h, w * h / 4, w * h / 4}
	case 2:
		g.PlaneSize = [omx.MaxBufferPlane]int{w * h, w * h / 2}
	default:
		g.PlaneSize = [omx.MaxBufferPlane]int{w * h * 3 / 2}
	}
	for _, size := range g.PlaneSize {
		g.SizeImage += size
	}
	return g
}

// sameGeometry 两个序列参数集是否可以共用输出缓冲
func sameGeometry(a, b *h264.SPS) bool {
	if a == nil || b == nil {
		return a == b
	}
	al, at, aw, ah := a.Crop()
	bl, bt, bw, bh := b.Crop()
	return a.MbWidth() == b.MbWidth() && a.MbHeight() == b.MbHeight() &&
		a.MaxNumRefFrames == b.MaxNumRefFrames && a.Interlaced() == b.Interlaced() &&
		al == bl && at == bt && aw == bw && ah == bh
}

// applySPS 切换输出格式，调用者持有锁
func (d *Decoder) applySPS(sps *h264.SPS) {
	d.active = sps
	d.conf = geometry(sps, d.format)
	d.logger.Debugf("%s output geometry %dx%d, crop = %+v, dpb = %d",
		Name, d.conf.FrameWidth, d.conf.FrameHeight, d.conf.Crop, sps.MaxNumRefFrames+1)
}
