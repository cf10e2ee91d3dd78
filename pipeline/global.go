// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/cnotch/scheduler"
	"github.com/cnotch/vdec/stats"
	"github.com/cnotch/xlog"
)

// 全局变量
var (
	pipelines sync.Map // 解码实例集合 ID->*Pipeline
)

// Regist 注册实例，实例结束后自动取消注册
func Regist(p *Pipeline) {
	if _, loaded := pipelines.LoadOrStore(p.id, p); loaded {
		return
	}
	go func() {
		<-p.Done()
		pipelines.Delete(p.id)
	}()
}

// Unregist 取消注册并关闭实例
func Unregist(p *Pipeline) {
	pipelines.Delete(p.id)
	p.Close()
}

// UnregistAll 取消全部注册的实例
func UnregistAll() {
	var wg sync.WaitGroup
	pipelines.Range(func(key, value interface{}) bool {
		pipelines.Delete(key)
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			p.Close()
		}(value.(*Pipeline))
		return true
	})
	wg.Wait()
}

// Get 获取编号为 id 的实例
func Get(id ID) *Pipeline {
	if v, ok := pipelines.Load(id); ok {
		return v.(*Pipeline)
	}
	return nil
}

// Count 实例数量
func Count() (n int) {
	pipelines.Range(func(key, value interface{}) bool {
		n++
		return true
	})
	return
}

// All 按编号排序的全部实例
func All() []*Pipeline {
	var ps []*Pipeline
	pipelines.Range(func(key, value interface{}) bool {
		ps = append(ps, value.(*Pipeline))
		return true
	})
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].id < ps[j].id
	})
	return ps
}

// Infos 分页返回实例信息，pagetoken 是上一页最后一个实例的编号
func Infos(pagetoken ID, pagesize int, includeDecoder bool) (int, []*Info) {
	ps := All()
	count := len(ps)

	infos := make([]*Info, 0, count)
	for _, p := range ps {
		if p.id > pagetoken {
			infos = append(infos, p.Info(includeDecoder))
		}
	}

	if pagesize > len(infos) {
		return count, infos
	}
	return count, infos[:pagesize]
}

// StartReport 周期输出每个实例的统计
func StartReport(interval time.Duration) {
	if interval <= 0 {
		return
	}

	last := time.Now()
	prev := stats.DecodeFlow.GetSample()
	scheduler.PeriodFunc(interval, interval, func() {
		now := time.Now()
		cur := stats.DecodeFlow.GetSample()
		report(cur.Rate(prev, now.Sub(last)))
		last, prev = now, cur
	}, "The task of periodically logging decoder statistics")
}

func report(rate stats.FlowSample) {
	all := All()
	if len(all) == 0 {
		return
	}

	xlog.L().Infof("decoders: %d, input: %d B/s, output: %d B/s",
		len(all), rate.InBytes, rate.OutBytes)
	for _, p := range all {
		info := p.Info(false)
		p.logger.Infof("status: %s, frames: %+v, timestamps in use: %d",
			info.Status, info.Frames, p.c.Timestamps().InUse())
	}
}
