// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package device 定义硬件解码引擎的操作接口。
//
// 引擎有两个队列：输入队列接收码流，输出队列接收空的图像缓冲并在解码完成后
// 按显示顺序(可能与提交顺序不同)回传。
package device

import (
	"errors"
	"time"

	"github.com/cnotch/vdec/omx"
)

// 错误定义
var (
	// ErrEIO 引擎故障
	ErrEIO = errors.New("device: i/o error")
	// ErrWrongBufferSize 缓冲区尺寸与当前配置不符
	ErrWrongBufferSize = errors.New("device: wrong buffer size")
	// ErrNotConfigured 队列尚未配置
	ErrNotConfigured = errors.New("device: queue not configured")
	// ErrQueueFull 队列已满
	ErrQueueFull = errors.New("device: queue full")
	// ErrUnsupported 不支持的参数
	ErrUnsupported = errors.New("device: unsupported")
	// ErrNoHeader 码流中尚未出现序列头
	ErrNoHeader = errors.New("device: sequence header not found")
)

// FrameType 图像类型，位组合
type FrameType uint32

// 图像类型
const (
	FrameTypeNotCoded FrameType = 0
	FrameTypeI        FrameType = 0x01
	FrameTypeP        FrameType = 0x02
	FrameTypeB        FrameType = 0x04
	FrameTypeSkipped  FrameType = 0x08
	FrameTypeOthers   FrameType = 0x10
	FrameTypeCorrupt  FrameType = 0x100
)

// Is 是否包含 t 中的任一位
func (f FrameType) Is(t FrameType) bool { return f&t != 0 }

// DisplayStatus 输出缓冲的显示状态
type DisplayStatus int

// 显示状态
const (
	DisplayStatusUnknown DisplayStatus = iota
	DisplayStatusDecodingDisplay
	DisplayStatusDisplayOnly
	DisplayStatusDecodingOnly
	DisplayStatusDecodingFinished
	DisplayStatusChangeResol
	DisplayStatusEnabledS3D
	DisplayStatusLastFrame
)

var displayNames = [...]string{"Unknown", "DecodingDisplay", "DisplayOnly",
	"DecodingOnly", "DecodingFinished", "ChangeResol", "EnabledS3D", "LastFrame"}

func (s DisplayStatus) String() string {
	if s >= 0 && int(s) < len(displayNames) {
		return displayNames[s]
	}
	return "Invalid"
}

// Plane 缓冲区的一个平面
type Plane struct {
	Addr      []byte
	FD        int
	AllocSize int
	DataSize  int
}

// Buffer 引擎出队的缓冲区
type Buffer struct {
	Planes        [omx.MaxBufferPlane]Plane
	PlaneCount    int
	FrameType     FrameType
	DisplayStatus DisplayStatus
	Interlaced    bool
	Private       interface{} // 入队时携带的私有数据，原样返回
}

// Geometry 队列的图像格式
type Geometry struct {
	FrameWidth  int
	FrameHeight int
	Stride      int
	SizeImage   int // 输入队列单个缓冲的大小
	PlaneCount  int
	ColorFormat omx.ColorFormat
	Crop        omx.Rect
	PlaneSize   [omx.MaxBufferPlane]int
	Interlaced  bool
}

// Info 引擎能力
type Info struct {
	Name             string
	LastFrameSupport bool // 支持 LastFrame 显示状态
	DynamicDPB       bool // 输出缓冲可动态注册
	ColorFormats     []omx.ColorFormat
}

// BufferOps 单个队列(输入或输出)的操作
type BufferOps interface {
	// SetGeometry 设置队列格式
	SetGeometry(g *Geometry) error
	// Geometry 读取当前格式；输出队列在解析序列头之后有效
	Geometry() (Geometry, error)
	// Setup 申请 n 个缓冲槽
	Setup(n int) error
	// Run 开始处理
	Run() error
	// Stop 停止处理并取回所有缓冲，阻塞中的 Dequeue 立即返回
	Stop() error
	// Enqueue 提交缓冲，private 在出队时原样返回
	Enqueue(planes []Plane, private interface{}) error
	// Dequeue 取回处理完的缓冲，暂时没有时返回 nil
	Dequeue() (*Buffer, error)
	// Poll 等待直到有缓冲可以出队、队列停止或超时
	Poll(timeout time.Duration) bool
	// Register 预先登记输出缓冲
	Register(planes []Plane) error
	// ApplyRegistered 使登记生效
	ApplyRegistered() error
	// ClearRegistered 清除登记
	ClearRegistered()
	// ClearQueue 丢弃队列中尚未处理的缓冲
	ClearQueue()
	// Cleanup 释放缓冲槽
	Cleanup() error
}

// Decoder 硬件解码引擎
type Decoder interface {
	Info() Info
	// Finalize 关闭引擎
	Finalize()

	SetFrameTag(tag int) error
	FrameTag() int
	SetDisplayDelay(delay int) error
	SetIFrameDecoding() error
	EnableDTSMode() error
	// ActualDPB 当前码流需要的参考帧数量
	ActualDPB() int
	// CheckFormat 是否支持输出该格式
	CheckFormat(f omx.ColorFormat) bool

	Input() BufferOps
	Output() BufferOps
}

// PlaneCount 输出格式对应的平面数
func PlaneCount(f omx.ColorFormat) int {
	switch f {
	case omx.ColorFormatYUV420Planar, omx.ColorFormatYVU420Planar:
		return 3
	case omx.ColorFormatYUV420SemiPlanar, omx.ColorFormatNV21Linear,
		omx.ColorFormatNV12Tiled, omx.ColorFormatYUV420SemiPlanarIL:
		return 2
	}
	return 1
}
