// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timestamp

import (
	"math/rand"
	"testing"

	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_Direct(t *testing.T) {
	tbl := NewTable(nil)

	t.Run("round trip", func(t *testing.T) {
		for n := 0; n < Capacity*3; n++ {
			tag := tbl.Put(int64(n*1000), 0)
			assert.Equal(t, n%Capacity, tag)
			slot, ok := tbl.Slot(tag)
			require.True(t, ok)
			assert.Equal(t, int64(n*1000), slot.Timestamp)
		}
	})

	t.Run("in flight window", func(t *testing.T) {
		tbl.Reset()
		tags := make([]int, Capacity)
		for i := range tags {
			tags[i] = tbl.Put(int64(i+1), uint32(i))
		}
		for i, tag := range tags {
			slot, _ := tbl.Slot(tag)
			assert.Equal(t, int64(i+1), slot.Timestamp)
			assert.Equal(t, uint32(i), slot.Flags)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, ok := tbl.Slot(IndexAfterEOS)
		assert.False(t, ok)
		_, ok = tbl.Slot(-1)
		assert.False(t, ok)
	})

	t.Run("output index", func(t *testing.T) {
		tbl.Reset()
		assert.Equal(t, 1, tbl.NextOutputIndex())
		tbl.SetOutputIndex(Capacity - 1)
		assert.Equal(t, 0, tbl.NextOutputIndex())
		tbl.SetOutputIndex(IndexAfterEOS)
		assert.Equal(t, 0, tbl.OutputIndex())
	})
}

func TestTable_SetReorder(t *testing.T) {
	tbl := NewTable(nil)

	t.Run("probe skips used slots", func(t *testing.T) {
		a := tbl.SetReorder(100, 0)
		b := tbl.SetReorder(200, 0)
		assert.Equal(t, 0, a)
		assert.Equal(t, 1, b)

		// 释放 0 号后游标继续向后，不回头
		tbl.Release(a)
		c := tbl.SetReorder(300, 0)
		assert.Equal(t, 2, c)
		assert.Equal(t, 2, tbl.InUse())
	})

	t.Run("wrap", func(t *testing.T) {
		tbl.Reset()
		for i := 0; i < Capacity; i++ {
			tbl.SetReorder(int64(i), 0)
		}
		tbl.Release(5)
		tag := tbl.SetReorder(999, omx.BufferFlagEOS)
		assert.Equal(t, 5, tag)
		slot, _ := tbl.Slot(5)
		assert.Equal(t, int64(999), slot.Timestamp)
		assert.True(t, slot.Used)
	})

	t.Run("full overwrites cursor", func(t *testing.T) {
		tbl.Reset()
		for i := 0; i < Capacity; i++ {
			tbl.SetReorder(int64(i), 0)
		}
		tag := tbl.SetReorder(12345, 0)
		assert.Equal(t, 0, tag)
		slot, _ := tbl.Slot(0)
		assert.Equal(t, int64(12345), slot.Timestamp)
		assert.Equal(t, Capacity, tbl.InUse())
	})
}

func TestTable_GetReorder(t *testing.T) {
	t.Run("smallest first", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(300, 0)
		tbl.SetReorder(100, 0)
		tbl.SetReorder(200, 0)

		var out []int64
		for i := 0; i < 3; i++ {
			cur := tbl.GetReorder(0, false, false, false)
			tbl.Release(cur.Index)
			out = append(out, cur.Timestamp)
		}
		assert.Equal(t, []int64{100, 200, 300}, out)
	})

	t.Run("codec config never emitted", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(0, omx.BufferFlagCodecConfig|omx.BufferFlagEndOfFrame)
		tbl.SetReorder(40, 0)
		cur := tbl.GetReorder(1, false, false, false)
		assert.Equal(t, 1, cur.Index)
		assert.Equal(t, int64(40), cur.Timestamp)
	})

	t.Run("eos slot ignored unless behavior eos", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(500, 0)
		tbl.SetReorder(10, omx.BufferFlagEOS)

		cur := tbl.GetReorder(0, false, false, false)
		assert.Equal(t, int64(500), cur.Timestamp)
		assert.Equal(t, 0, cur.Index)

		tbl = NewTable(nil)
		tbl.SetReorder(500, 0)
		tbl.SetReorder(10, omx.BufferFlagEOS)
		cur = tbl.GetReorder(0, false, false, true)
		assert.Equal(t, 1, cur.Index)
		assert.Equal(t, int64(10), cur.Timestamp)
	})

	t.Run("eos candidate always replaced", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(10, omx.BufferFlagEOS)
		tbl.SetReorder(900, 0)
		cur := tbl.GetReorder(1, false, false, false)
		assert.Equal(t, 1, cur.Index)
		assert.Equal(t, int64(900), cur.Timestamp)
	})

	t.Run("i-frame with matching tag keeps candidate", func(t *testing.T) {
		tbl := NewTable(nil)
		for _, ts := range []int64{100, 200, 300, 400} {
			tbl.SetReorder(ts, 0)
		}

		// 300 的 I 帧返回的标签指向 100 所在的槽位，与候选一致
		cur := tbl.GetReorder(0, true, false, false)
		assert.Equal(t, int64(100), cur.Timestamp)
		assert.Equal(t, 0, cur.Index)
		assert.NotZero(t, cur.Flags&omx.BufferFlagSyncFrame)

		// 标签与候选一致时不淘汰，200 仍在使用
		slot200, _ := tbl.Slot(1)
		assert.Equal(t, int64(200), slot200.Timestamp)
		assert.True(t, slot200.Used)

		tbl.Release(cur.Index)
		assert.Equal(t, 3, tbl.InUse())
		next := tbl.GetReorder(1, false, false, false)
		assert.Equal(t, int64(200), next.Timestamp)
	})

	t.Run("i-frame resync retires skipped slots", func(t *testing.T) {
		tbl := NewTable(nil)
		for _, ts := range []int64{100, 200, 300, 400} {
			tbl.SetReorder(ts, 0)
		}
		cur := tbl.GetReorder(0, false, false, false)
		tbl.Release(cur.Index)

		// 候选为 200(1 号)，硬件标签指向 300(2 号)
		cur = tbl.GetReorder(2, true, false, false)
		assert.Equal(t, 2, cur.Index)
		assert.Equal(t, int64(300), cur.Timestamp)
		assert.Equal(t, omx.BufferFlagSyncFrame, cur.Flags)

		skipped, _ := tbl.Slot(1)
		assert.False(t, skipped.Used)
		assert.Zero(t, skipped.Flags)

		tbl.Release(cur.Index)
		next := tbl.GetReorder(3, false, false, false)
		assert.Equal(t, int64(400), next.Timestamp)
	})

	t.Run("i-frame resync revives later slots", func(t *testing.T) {
		tbl := NewTable(nil)
		for _, ts := range []int64{100, 200, 300} {
			tbl.SetReorder(ts, 0)
		}
		// 300 被提前释放
		tbl.Release(2)
		cur := tbl.GetReorder(1, true, false, false)
		assert.Equal(t, int64(200), cur.Timestamp)

		revived, _ := tbl.Slot(2)
		assert.True(t, revived.Used)
		retired, _ := tbl.Slot(0)
		assert.False(t, retired.Used)
	})

	t.Run("corrupt flag", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(1, 0)
		cur := tbl.GetReorder(0, false, true, false)
		assert.Equal(t, omx.BufferFlagDataCorrupt, cur.Flags)
	})

	t.Run("empty table falls back to latest", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetLatest(777)
		cur := tbl.GetReorder(0, false, false, false)
		assert.Equal(t, int64(777), cur.Timestamp)
	})

	t.Run("never regress", func(t *testing.T) {
		tbl := NewTable(nil)
		tbl.SetReorder(500, 0)
		cur := tbl.GetReorder(0, false, false, false)
		tbl.Release(cur.Index)
		tbl.SetReorder(200, 0)
		cur = tbl.GetReorder(1, false, false, false)
		assert.Equal(t, int64(500), cur.Timestamp)
		assert.Equal(t, int64(500), tbl.Latest())
	})
}

func TestTable_ReorderMonotonic(t *testing.T) {
	rnd := rand.New(rand.NewSource(20190101))

	for round := 0; round < 50; round++ {
		tbl := NewTable(nil)
		var tags []int
		pending := 0
		last := int64(DefaultValue)

		for i := 0; i < 200; i++ {
			// 提交顺序随机
			if pending < 8 || rnd.Intn(2) == 0 {
				tags = append(tags, tbl.SetReorder(rnd.Int63n(1000000), 0))
				pending++
				continue
			}

			// 硬件乱序回传
			k := rnd.Intn(len(tags))
			tag := tags[k]
			tags = append(tags[:k], tags[k+1:]...)
			pending--

			cur := tbl.GetReorder(tag, rnd.Intn(10) == 0, false, false)
			tbl.Release(cur.Index)
			require.True(t, cur.Timestamp >= last, "round %d step %d: %d < %d", round, i, cur.Timestamp, last)
			last = cur.Timestamp
		}
	}
}
