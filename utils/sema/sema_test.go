// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sema

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphore(t *testing.T) {
	t.Run("count", func(t *testing.T) {
		s := New(2)
		s.Wait()
		assert.Equal(t, 1, s.Value())
		s.Post()
		s.Post()
		assert.Equal(t, 3, s.Value())
		assert.True(t, s.TryWait())
		s.Reset()
		assert.False(t, s.TryWait())
	})

	t.Run("handoff", func(t *testing.T) {
		s := New(0)
		done := make(chan struct{})
		go func() {
			s.Wait()
			close(done)
		}()
		for s.Waiters() == 0 {
			time.Sleep(time.Millisecond)
		}

		s.Post()
		<-done
		// 许可直接移交，计数保持为 0
		assert.Equal(t, 0, s.Value())
		assert.Equal(t, 0, s.Waiters())
	})

	t.Run("timeout", func(t *testing.T) {
		s := New(0)
		assert.False(t, s.WaitTimeout(time.Millisecond*5))
		assert.Equal(t, 0, s.Waiters())
		s.Post()
		assert.True(t, s.WaitTimeout(time.Millisecond*5))
	})

	t.Run("fifo", func(t *testing.T) {
		s := New(0)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var order []int
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.Wait()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}(i)
			for s.Waiters() != i+1 {
				time.Sleep(time.Millisecond)
			}
		}
		for i := 0; i < 3; i++ {
			s.Post()
			<-time.After(time.Millisecond * 5)
		}
		wg.Wait()
		assert.Equal(t, []int{0, 1, 2}, order)
	})
}

func TestEvent(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.WaitTimeout(time.Millisecond))

	go func() {
		<-time.After(time.Millisecond * 5)
		e.Set()
	}()
	e.Wait()
	assert.True(t, e.IsSet())
	assert.True(t, e.WaitTimeout(time.Millisecond))

	e.Reset()
	assert.False(t, e.IsSet())
	assert.False(t, e.WaitTimeout(time.Millisecond))
}
