// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"testing"
	"time"

	"github.com/cnotch/vdec/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecQueue(t *testing.T) {
	t.Run("fifo", func(t *testing.T) {
		q := NewCodecQueue()
		bufs := []*CodecBuffer{{DataSize: 1}, {DataSize: 2}, {DataSize: 3}}
		for _, cb := range bufs {
			require.NoError(t, q.Enqueue(cb))
		}
		assert.Equal(t, 3, q.Len())
		assert.Equal(t, 3, q.Value())
		for _, want := range bufs {
			cb, err := q.Dequeue()
			require.NoError(t, err)
			assert.Same(t, want, cb)
		}
		assert.Equal(t, 0, q.Value())
		assert.Equal(t, omx.ErrorInsufficientResources, q.Enqueue(nil))
	})

	t.Run("wake", func(t *testing.T) {
		q := NewCodecQueue()
		done := make(chan error)
		go func() {
			_, err := q.Dequeue()
			done <- err
		}()
		time.Sleep(10 * time.Millisecond)
		q.Wake()
		select {
		case err := <-done:
			assert.Equal(t, omx.ErrorUndefined, err)
		case <-time.After(time.Second):
			t.Fatal("dequeue is not woken")
		}
	})

	t.Run("reset", func(t *testing.T) {
		q := NewCodecQueue()
		q.Enqueue(&CodecBuffer{})
		q.Wake()
		q.Reset()
		assert.Equal(t, 0, q.Len())
		assert.Equal(t, 0, q.Value())

		cb := &CodecBuffer{}
		q.Enqueue(cb)
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Same(t, cb, got)
	})
}
