// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timestamp 维护提交给硬件的帧标签与显示时间戳之间的关联。
//
// 硬件解码器按解码顺序接收码流，按显示顺序(可能乱序)输出图像。
// 提交时为每帧分配一个标签(槽位下标)，输出时根据硬件回传的标签
// 或重排序规则恢复原始时间戳。
package timestamp

import (
	"sync"

	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/xlog"
)

// 常量
const (
	Capacity      = 40          // 时间戳槽位数量
	IndexAfterEOS = 0xE05       // EOS 之后硬件回传的特殊标签
	DefaultValue  = -1010101010 // 无效时间戳
	ResetValue    = -1001001001 // 复位后的时间戳
)

// Slot 时间戳槽位
type Slot struct {
	Timestamp int64  `json:"timestamp"`
	Flags     uint32 `json:"flags"`
	Used      bool   `json:"used"`
}

// Current 输出端为当前图像选出的时间戳
type Current struct {
	Index     int
	Timestamp int64
	Flags     uint32
}

// Table 固定容量的时间戳槽位表，并发安全
type Table struct {
	mu          sync.Mutex
	slots       [Capacity]Slot
	cursor      int   // 下一次写入的位置
	outputIndex int   // Direct 模式下预期的下一个输出位置
	latest      int64 // 最近输出的时间戳，只增不减
	logger      *xlog.Logger
}

// NewTable 创建时间戳表
func NewTable(logger *xlog.Logger) *Table {
	if logger == nil {
		logger = xlog.L()
	}
	t := &Table{logger: logger}
	t.Reset()
	return t
}

// Reset 复位全部槽位和游标
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearSlots()
	t.cursor = 0
	t.outputIndex = 0
	t.latest = DefaultValue
}

// Clear 清空全部槽位，保留游标；用于输入端口冲刷
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearSlots()
}

func (t *Table) clearSlots() {
	for i := range t.slots {
		t.slots[i] = Slot{Timestamp: DefaultValue}
	}
}

// Put Direct 模式：写入游标处的槽位并返回标签，游标循环前进
func (t *Table) Put(ts int64, flags uint32) (tag int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag = t.cursor
	t.slots[tag].Timestamp = ts
	t.slots[tag].Flags = flags
	t.cursor = (t.cursor + 1) % Capacity
	return
}

// SetReorder 重排序模式：从游标开始线性探测空闲槽位，写入并标记占用。
// 槽位全满时覆盖游标处的槽位。
func (t *Table) SetReorder(ts int64, flags uint32) (tag int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := 0
	for ; i < Capacity; i++ {
		if !t.slots[t.cursor].Used {
			break
		}
		t.cursor = (t.cursor + 1) % Capacity
	}

	if i >= Capacity {
		t.logger.Error("can not find empty slot of timestamp. timestamp slot is full.")
	}

	tag = t.cursor
	t.slots[tag] = Slot{Timestamp: ts, Flags: flags, Used: true}
	t.cursor = (t.cursor + 1) % Capacity
	return
}

// GetReorder 重排序模式：为硬件输出的图像选出时间戳。
//
// 在占用且非纯配置数据的槽位中选择最小的时间戳；已携带 EOS 的候选总会被替换，
// 携带 EOS 的槽位仅在 behaviorEOS 时参与比较。I 帧且标签与候选不一致时以
// 硬件标签为准，同时淘汰更早的槽位、恢复更晚的槽位。输出的时间戳单调不减。
func (t *Table) GetReorder(tag int, keyFrame, corrupt, behaviorEOS bool) (cur Current) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur.Timestamp = DefaultValue

	for i := range t.slots {
		s := &t.slots[i]
		// 纯配置数据不对应任何图像
		if !s.Used || s.Flags == (omx.BufferFlagCodecConfig|omx.BufferFlagEndOfFrame) {
			continue
		}

		// EOS 槽位的时间戳可能无效
		if cur.Timestamp == DefaultValue ||
			(cur.Timestamp > s.Timestamp && (s.Flags&omx.BufferFlagEOS == 0 || behaviorEOS)) ||
			cur.Flags&omx.BufferFlagEOS != 0 {
			cur.Timestamp = s.Timestamp
			cur.Flags = s.Flags
			cur.Index = i
		}
	}

	if cur.Timestamp == DefaultValue {
		t.logger.Debugf("could not find a valid timestamp")
	}

	if keyFrame {
		if cur.Index != tag && tag >= 0 && tag < Capacity {
			t.logger.Debugf("timestamp is not same in spite of I-frame, trust tag %d", tag)
			cur.Timestamp = t.slots[tag].Timestamp
			cur.Flags = t.slots[tag].Flags
			cur.Index = tag

			for i := range t.slots {
				s := &t.slots[i]
				// 跳过的图像
				if s.Used && cur.Timestamp > s.Timestamp && s.Flags&omx.BufferFlagEOS == 0 {
					s.Flags = 0
					s.Used = false
				}

				if !s.Used && cur.Timestamp < s.Timestamp {
					s.Used = true
					t.logger.Debugf("revive an old timestamp index %d for I-frame sync", i)
				}
			}
		}

		if cur.Timestamp == DefaultValue {
			t.logger.Warnf("the index of frame(%d) about I-frame is wrong", tag)
		}
		cur.Flags |= omx.BufferFlagSyncFrame
	}

	if corrupt {
		cur.Flags |= omx.BufferFlagDataCorrupt
	}

	if cur.Timestamp != DefaultValue {
		if t.latest <= cur.Timestamp {
			t.latest = cur.Timestamp
		} else {
			t.logger.Warnf("current timestamp(%d) is smaller than latest timestamp(%d), uses latest", cur.Timestamp, t.latest)
			cur.Timestamp = t.latest
		}
	} else {
		t.logger.Warnf("uses latest timestamp(%d)", t.latest)
		cur.Timestamp = t.latest
	}
	return
}

// Release 释放已输出的槽位
func (t *Table) Release(index int) {
	if index < 0 || index >= Capacity {
		return
	}
	t.mu.Lock()
	t.slots[index].Flags = 0
	t.slots[index].Used = false
	t.mu.Unlock()
}

// Slot 返回槽位的副本，下标越界返回 false
func (t *Table) Slot(index int) (Slot, bool) {
	if index < 0 || index >= Capacity {
		return Slot{Timestamp: DefaultValue}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[index], true
}

// ClearFlags 清除槽位上的指定标志
func (t *Table) ClearFlags(index int, flags uint32) {
	if index < 0 || index >= Capacity {
		return
	}
	t.mu.Lock()
	t.slots[index].Flags &^= flags
	t.mu.Unlock()
}

// NextOutputIndex Direct 模式下推进预期输出位置并返回
func (t *Table) NextOutputIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputIndex = (t.outputIndex + 1) % Capacity
	return t.outputIndex
}

// OutputIndex 返回预期输出位置
func (t *Table) OutputIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputIndex
}

// SetOutputIndex 以硬件标签重新对齐预期输出位置
func (t *Table) SetOutputIndex(index int) {
	if index < 0 || index >= Capacity {
		return
	}
	t.mu.Lock()
	t.outputIndex = index
	t.mu.Unlock()
}

// Cursor 返回写入游标
func (t *Table) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Latest 最近输出的时间戳
func (t *Table) Latest() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// SetLatest 设置最近输出的时间戳，用于 seek 之后的起始时间戳
func (t *Table) SetLatest(ts int64) {
	t.mu.Lock()
	t.latest = ts
	t.mu.Unlock()
}

// Snapshot 返回全部槽位的副本
func (t *Table) Snapshot() []Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	slots := make([]Slot, Capacity)
	copy(slots, t.slots[:])
	return slots
}

// InUse 占用中的槽位数量
func (t *Table) InUse() (n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].Used {
			n++
		}
	}
	return
}
