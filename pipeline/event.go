// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"sync"
	"time"

	"github.com/cnotch/vdec/omx"
)

// Event 解码组件事件，推送给订阅者
type Event struct {
	Pipeline string `json:"pipeline"`
	Key      string `json:"key"`
	Type     string `json:"type"`
	Data1    uint32 `json:"data1"`
	Data2    uint32 `json:"data2"`
	Desc     string `json:"desc,omitempty"`
	On       int64  `json:"on"` // unix 毫秒
}

func newEvent(p *Pipeline, typ omx.EventType, data1, data2 uint32) Event {
	e := Event{
		Pipeline: p.id.String(),
		Key:      p.key,
		Type:     typ.String(),
		Data1:    data1,
		Data2:    data2,
		On:       time.Now().UnixNano() / int64(time.Millisecond),
	}
	switch typ {
	case omx.EventError:
		e.Desc = omx.Error(data1).Error()
	case omx.EventCmdComplete:
		e.Desc = omx.Command(data1).String()
	case omx.EventBufferFlag:
		e.Desc = omx.FlagsString(data2)
	}
	return e
}

var subscribers struct {
	sync.RWMutex
	seq  int
	subs map[int]chan Event
}

// Subscribe 订阅全部解码实例的事件，cancel 之后通道被关闭。
// 订阅者来不及接收的事件被丢弃。
func Subscribe(backlog int) (events <-chan Event, cancel func()) {
	ch := make(chan Event, backlog)

	subscribers.Lock()
	if subscribers.subs == nil {
		subscribers.subs = make(map[int]chan Event)
	}
	subscribers.seq++
	id := subscribers.seq
	subscribers.subs[id] = ch
	subscribers.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			subscribers.Lock()
			delete(subscribers.subs, id)
			subscribers.Unlock()
			close(ch)
		})
	}
}

func publish(e Event) {
	subscribers.RLock()
	defer subscribers.RUnlock()
	for _, ch := range subscribers.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
