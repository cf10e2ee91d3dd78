// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package omx

import "fmt"

// Error 组件错误码，满足 error 接口
type Error uint32

// 标准错误码
const (
	ErrorNone                    Error = 0
	ErrorInsufficientResources   Error = 0x80001000
	ErrorUndefined               Error = 0x80001001
	ErrorInvalidComponentName    Error = 0x80001002
	ErrorBadParameter            Error = 0x80001005
	ErrorNotImplemented          Error = 0x80001006
	ErrorUnderflow               Error = 0x80001007
	ErrorOverflow                Error = 0x80001008
	ErrorHardware                Error = 0x80001009
	ErrorInvalidState            Error = 0x8000100A
	ErrorStreamCorrupt           Error = 0x8000100B
	ErrorIncorrectStateOperation Error = 0x80001018
	ErrorPortUnpopulated         Error = 0x8000101C
)

// 扩展错误码
const (
	ErrorNoEOF              Error = 0x90000001
	ErrorInputDataDecodeYet Error = 0x90000002
	ErrorCodecInit          Error = 0x90000004
	ErrorCodecDecode        Error = 0x90000005
	ErrorCodecFlush         Error = 0x90000007
	ErrorOutputBufferUseYet Error = 0x90000008
	ErrorCorruptedFrame     Error = 0x90000009
	ErrorNeedNextHeaderInfo Error = 0x90000010
	ErrorNoneSrcSetupFinish Error = 0x90000011
	ErrorCorruptedHeader    Error = 0x90000012
)

var errorNames = map[Error]string{
	ErrorNone:                    "None",
	ErrorInsufficientResources:   "InsufficientResources",
	ErrorUndefined:               "Undefined",
	ErrorInvalidComponentName:    "InvalidComponentName",
	ErrorBadParameter:            "BadParameter",
	ErrorNotImplemented:          "NotImplemented",
	ErrorUnderflow:               "Underflow",
	ErrorOverflow:                "Overflow",
	ErrorHardware:                "Hardware",
	ErrorInvalidState:            "InvalidState",
	ErrorStreamCorrupt:           "StreamCorrupt",
	ErrorIncorrectStateOperation: "IncorrectStateOperation",
	ErrorPortUnpopulated:         "PortUnpopulated",
	ErrorNoEOF:                   "NoEOF",
	ErrorInputDataDecodeYet:      "InputDataDecodeYet",
	ErrorCodecInit:               "CodecInit",
	ErrorCodecDecode:             "CodecDecode",
	ErrorCodecFlush:              "CodecFlush",
	ErrorOutputBufferUseYet:      "OutputBufferUseYet",
	ErrorCorruptedFrame:          "CorruptedFrame",
	ErrorNeedNextHeaderInfo:      "NeedNextHeaderInfo",
	ErrorNoneSrcSetupFinish:      "NoneSrcSetupFinish",
	ErrorCorruptedHeader:         "CorruptedHeader",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return "omx: " + name
	}
	return fmt.Sprintf("omx: error 0x%08x", uint32(e))
}

// Transient 是否为可重试的过程性状态，不需要上报给框架
func (e Error) Transient() bool {
	switch e {
	case ErrorInputDataDecodeYet, ErrorOutputBufferUseYet,
		ErrorNeedNextHeaderInfo, ErrorNoneSrcSetupFinish:
		return true
	}
	return false
}

// Corrupted 是否为单帧可恢复的损坏错误
func (e Error) Corrupted() bool {
	return e == ErrorCorruptedFrame || e == ErrorCorruptedHeader
}

// Code 将 error 转换为错误码; nil 对应 ErrorNone, 非 Error 类型对应 ErrorUndefined
func Code(err error) Error {
	if err == nil {
		return ErrorNone
	}
	if e, ok := err.(Error); ok {
		return e
	}
	return ErrorUndefined
}

// Err 将错误码转换为 error，ErrorNone 返回 nil
func (e Error) Err() error {
	if e == ErrorNone {
		return nil
	}
	return e
}
