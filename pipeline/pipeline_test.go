// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cnotch/vdec/av/h264"
	"github.com/cnotch/vdec/device/emul"
	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/source"
	"github.com/cnotch/vdec/vdec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 10 * time.Second

type picture struct {
	ts     int64
	flags  uint32
	width  int
	height int
	size   int
}

type memSink struct {
	mu     sync.Mutex
	pics   []picture
	closed bool
}

func (s *memSink) WritePicture(p *Picture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pics = append(s.pics, picture{p.Timestamp, p.Flags, p.Width, p.Height, len(p.Data)})
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	tss := make([]int64, len(s.pics))
	for i, p := range s.pics {
		tss[i] = p.ts
	}
	return tss
}

type funcSource struct {
	read func(ctx context.Context) (*source.Frame, error)
}

func (s *funcSource) Name() string { return "func" }
func (s *funcSource) Close() error { return nil }
func (s *funcSource) ReadFrame(ctx context.Context) (*source.Frame, error) {
	return s.read(ctx)
}

func fileSource(t *testing.T, w, h int, loop bool, patterns ...string) *source.FileSource {
	t.Helper()
	sw, err := h264.NewStreamWriter(w, h, 3, 2)
	require.NoError(t, err)
	var data []byte
	for _, pattern := range patterns {
		aus, err := sw.GOP(pattern)
		require.NoError(t, err)
		for _, au := range aus {
			data = append(data, au.Data...)
		}
	}
	src, err := source.NewFileSource("test.h264", data, 1000, loop)
	require.NoError(t, err)
	return src
}

func newPipeline(src source.Source, sink Sink, opts ...vdec.Option) *Pipeline {
	opts = append([]vdec.Option{vdec.PauseMaxWait(20 * time.Millisecond)}, opts...)
	return New(src, sink, emul.Open(), opts...)
}

func wait(t *testing.T, p *Pipeline) error {
	t.Helper()
	select {
	case <-p.Done():
		return p.Wait()
	case <-time.After(waitTimeout):
		p.Close()
		t.Fatal("pipeline does not finish")
		return nil
	}
}

func displayTimestamps(n int, d int64) []int64 {
	tss := make([]int64, n)
	for i := range tss {
		tss[i] = int64(i) * d
	}
	return tss
}

func TestPipeline_Decode(t *testing.T) {
	tests := []struct {
		name string
		opts []vdec.Option
	}{
		{"direct", nil},
		{"reorder", []vdec.Option{vdec.ReorderMode(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memSink{}
			p := newPipeline(fileSource(t, 176, 144, false, "IBBPBBP"), sink, tt.opts...)
			require.NoError(t, p.Start())
			require.NoError(t, wait(t, p))

			assert.Equal(t, StatusFinished, p.Status())
			assert.Equal(t, displayTimestamps(7, 1000), sink.timestamps())
			assert.True(t, sink.closed)
			for _, pic := range sink.pics {
				assert.Equal(t, 176, pic.width)
				assert.Equal(t, 144, pic.height)
				assert.Equal(t, 176*144*3/2, pic.size)
			}

			info := p.Info(true)
			assert.Equal(t, "finished", info.Status)
			assert.Equal(t, int64(7), info.Frames.In)
			assert.Equal(t, int64(7), info.Frames.Out)
			assert.Equal(t, int64(6000), info.LastTimestamp)
			assert.Empty(t, info.Error)
			require.NotNil(t, info.Decoder)
			assert.Equal(t, "h264", info.Decoder.Codec)
			assert.Equal(t, omx.StateLoaded.String(), info.Decoder.State)
		})
	}
}

func TestPipeline_KeyFrameFirst(t *testing.T) {
	src := fileSource(t, 176, 144, false, "IPP")
	var keys int
	sink := &memSink{}
	p := newPipeline(&funcSource{read: func(ctx context.Context) (*source.Frame, error) {
		f, err := src.ReadFrame(ctx)
		if err == nil && f.Sync() {
			keys++
		}
		return f, err
	}}, sink)
	require.NoError(t, p.Start())
	require.NoError(t, wait(t, p))

	// 同步帧是第一个输入，起始时间戳检查不能丢掉它
	assert.Equal(t, 1, keys)
	require.NotEmpty(t, sink.timestamps())
	assert.Equal(t, int64(0), sink.timestamps()[0])
	assert.Equal(t, displayTimestamps(3, 1000), sink.timestamps())
	assert.Equal(t, int64(3), p.Info(false).Frames.Out)
}

func TestPipeline_PortReconfig(t *testing.T) {
	sink := &memSink{}
	p := newPipeline(fileSource(t, 320, 240, false, "IPBP"), sink)
	require.NoError(t, p.Start())
	require.NoError(t, wait(t, p))

	assert.Equal(t, displayTimestamps(4, 1000), sink.timestamps())
	for _, pic := range sink.pics {
		assert.Equal(t, 320, pic.width)
		assert.Equal(t, 320*240*3/2, pic.size)
	}
}

func TestPipeline_EmptySource(t *testing.T) {
	sink := &memSink{}
	src := &funcSource{read: func(context.Context) (*source.Frame, error) {
		return nil, io.EOF
	}}
	p := newPipeline(src, sink)
	require.NoError(t, p.Start())
	require.NoError(t, wait(t, p))

	assert.Equal(t, StatusFinished, p.Status())
	assert.Empty(t, sink.pics)
}

func TestPipeline_SourceError(t *testing.T) {
	broken := errors.New("broken source")
	src := &funcSource{read: func(context.Context) (*source.Frame, error) {
		return nil, broken
	}}
	p := newPipeline(src, nil)
	require.NoError(t, p.Start())
	assert.Equal(t, broken, wait(t, p))
	assert.Equal(t, StatusFailed, p.Status())
	assert.Equal(t, broken.Error(), p.Info(false).Error)
}

func TestPipeline_Close(t *testing.T) {
	sink := &memSink{}
	p := newPipeline(fileSource(t, 176, 144, true, "IBP"), sink)

	// 未启动的实例可以直接关闭
	idle := newPipeline(fileSource(t, 176, 144, false, "I"), nil)
	require.NoError(t, idle.Close())
	assert.Equal(t, StatusClosed, idle.Status())
	assert.Equal(t, ErrNotRunning, idle.Start())

	Regist(p)
	assert.Equal(t, p, Get(p.ID()))
	assert.Equal(t, 1, Count())
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return p.Info(false).Frames.Out > 3 },
		waitTimeout, time.Millisecond)
	require.NoError(t, p.Close())
	assert.Equal(t, StatusClosed, p.Status())
	assert.NoError(t, p.Wait())
	assert.True(t, sink.closed)

	require.Eventually(t, func() bool { return Get(p.ID()) == nil },
		waitTimeout, time.Millisecond)
	assert.Equal(t, ErrNotRunning, p.Flush())
}

func TestPipeline_Controls(t *testing.T) {
	p := newPipeline(fileSource(t, 176, 144, true, "IPPP"), nil)
	require.NoError(t, p.Start())
	defer p.Close()

	require.Eventually(t, func() bool { return p.Info(false).Frames.Out > 0 },
		waitTimeout, time.Millisecond)

	require.NoError(t, p.Pause())
	assert.Equal(t, StatusPaused, p.Status())
	assert.Equal(t, omx.StatePause, p.Component().State())
	require.NoError(t, p.Resume())
	assert.Equal(t, StatusRunning, p.Status())

	require.NoError(t, p.Flush())
	require.NoError(t, p.RestartOutput())

	out := p.Info(false).Frames.Out
	require.Eventually(t, func() bool { return p.Info(false).Frames.Out > out },
		waitTimeout, time.Millisecond)
}

func TestRegistry(t *testing.T) {
	var ps []*Pipeline
	for i := 0; i < 3; i++ {
		p := newPipeline(fileSource(t, 176, 144, false, "I"), nil)
		Regist(p)
		ps = append(ps, p)
	}

	count, infos := Infos(0, 2, false)
	assert.Equal(t, 3, count)
	require.Len(t, infos, 2)
	assert.Equal(t, ps[0].ID().String(), infos[0].ID)
	assert.Equal(t, ps[1].ID().String(), infos[1].ID)
	assert.Equal(t, "created", infos[0].Status)

	_, infos = Infos(ps[1].ID(), 2, false)
	require.Len(t, infos, 1)
	assert.Equal(t, ps[2].ID().String(), infos[0].ID)

	Unregist(ps[0])
	assert.Nil(t, Get(ps[0].ID()))
	UnregistAll()
	assert.Equal(t, 0, Count())
	for _, p := range ps {
		assert.Equal(t, StatusClosed, p.Status())
	}
}

func TestSubscribe(t *testing.T) {
	events, cancel := Subscribe(backlog)
	p := newPipeline(fileSource(t, 176, 144, false, "IP"), nil)
	require.NoError(t, p.Start())
	require.NoError(t, wait(t, p))
	cancel()
	cancel()

	var got []Event
	for e := range events {
		if e.Pipeline == p.ID().String() {
			got = append(got, e)
		}
	}
	var stateSet int
	for _, e := range got {
		assert.Equal(t, p.Key(), e.Key)
		if e.Type == "CmdComplete" && e.Desc == "StateSet" {
			stateSet++
		}
	}
	// Idle, Executing, Idle, Loaded
	assert.Equal(t, 4, stateSet)
}

func TestID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.True(t, b > a)

	id, err := ParseID(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, id)
	_, err = ParseID("x")
	assert.Error(t, err)

	on := time.Unix(1560000000, 0)
	assert.Equal(t, a.Key(on, "src"), a.Key(on, "src"))
	assert.NotEqual(t, a.Key(on, "src"), a.Key(on, "other"))
	assert.NotEqual(t, a.Key(on, "src"), b.Key(on, "src"))
	assert.Len(t, a.Key(on, "src"), 26)
}

func TestFileSink(t *testing.T) {
	dir, err := ioutil.TempDir("", "vdec")
	require.NoError(t, err)
	path := filepath.Join(dir, "out.yuv")

	s, err := CreateFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.WritePicture(&Picture{Data: []byte{1, 2, 3}}))
	require.NoError(t, s.WritePicture(&Picture{}))
	require.NoError(t, s.WritePicture(&Picture{Data: []byte{4}}))
	require.NoError(t, s.Close())

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}
