// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package omx

// State 组件状态
type State int32

// 组件状态
const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

var stateNames = [...]string{"Invalid", "Loaded", "Idle", "Executing", "Pause", "WaitForResources"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// TransState 状态切换过程中的过渡状态
type TransState int32

// 过渡状态
const (
	TransStateInvalid TransState = iota
	TransStateLoadedToIdle
	TransStateIdleToExecuting
	TransStateExecutingToIdle
	TransStateIdleToLoaded
)

// Command 命令
type Command int32

// 命令
const (
	CommandStateSet Command = iota
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	CommandMarkBuffer
)

var commandNames = [...]string{"StateSet", "Flush", "PortDisable", "PortEnable", "MarkBuffer"}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "Unknown"
}

// EventType 事件类型
type EventType int32

// 事件类型
const (
	EventCmdComplete EventType = iota
	EventError
	EventMark
	EventPortSettingsChanged
	EventBufferFlag
	EventResourcesAcquired
	EventComponentResumed
)

var eventNames = [...]string{"CmdComplete", "Error", "Mark", "PortSettingsChanged",
	"BufferFlag", "ResourcesAcquired", "ComponentResumed"}

func (e EventType) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "Unknown"
}

// IndexConfigCommonOutputCrop 端口设置改变事件的附加索引，表示仅裁剪区域改变
const IndexConfigCommonOutputCrop = 0x0700000F

// ColorFormat 像素格式
type ColorFormat int32

// 像素格式
const (
	ColorFormatUnused             ColorFormat = 0
	ColorFormatYUV420Planar       ColorFormat = 19
	ColorFormatYUV420SemiPlanar   ColorFormat = 21
	ColorFormatNV12Tiled          ColorFormat = 0x7FC00002
	ColorFormatNV21Linear         ColorFormat = 0x7F000011
	ColorFormatYVU420Planar       ColorFormat = 0x7F000012
	ColorFormatYUV420SemiPlanarIL ColorFormat = 0x7F000014
)

var colorNames = map[ColorFormat]string{
	ColorFormatUnused:             "Unused",
	ColorFormatYUV420Planar:       "I420",
	ColorFormatYUV420SemiPlanar:   "NV12",
	ColorFormatNV12Tiled:          "NV12T",
	ColorFormatNV21Linear:         "NV21",
	ColorFormatYVU420Planar:       "YV12",
	ColorFormatYUV420SemiPlanarIL: "NV12I",
}

func (c ColorFormat) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return "Unknown"
}

// YUV420 是否为 4:2:0 格式
func (c ColorFormat) YUV420() bool {
	switch c {
	case ColorFormatYUV420Planar, ColorFormatYUV420SemiPlanar,
		ColorFormatNV12Tiled, ColorFormatNV21Linear, ColorFormatYVU420Planar,
		ColorFormatYUV420SemiPlanarIL:
		return true
	}
	return false
}

// Rect 矩形区域
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PortDefinition 端口定义
type PortDefinition struct {
	Enabled           bool        `json:"enabled"`
	Populated         bool        `json:"populated"`
	BufferCountActual int         `json:"buffer_count_actual"`
	BufferCountMin    int         `json:"buffer_count_min"`
	BufferSize        int         `json:"buffer_size"`
	FrameWidth        int         `json:"width"`
	FrameHeight       int         `json:"height"`
	Stride            int         `json:"stride"`
	SliceHeight       int         `json:"slice_height"`
	ColorFormat       ColorFormat `json:"color_format"`
}
