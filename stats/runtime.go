// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stats

import (
	"runtime"
	"time"

	"github.com/kelindar/process"
)

// StartingTime 进程启动时间
var StartingTime = time.Now()

// Proc 进程资源
type Proc struct {
	CPU    float64 `json:"cpu"`
	Priv   int32   `json:"priv"` // KB
	Virt   int32   `json:"virt"` // KB
	Uptime int32   `json:"uptime"`
}

// Memory 内存使用，单位 KB
type Memory struct {
	Inuse int32 `json:"inuse"`
	Sys   int32 `json:"sys"`
}

// Runtime Go 运行时的内存和协程情况
type Runtime struct {
	Heap       Memory  `json:"heap"`
	Stack      Memory  `json:"stack"`
	HeapObjs   int32   `json:"heap_objects"`
	GCCPU      float64 `json:"gc_cpu"`
	NumGC      uint32  `json:"num_gc"`
	Goroutines int32   `json:"goroutines"`
}

// Snapshot 解码服务的整体统计
type Snapshot struct {
	Proc     Proc        `json:"proc"`
	Decoders ConnsSample `json:"decoders"`
	Sources  ConnsSample `json:"sources"`
	Clients  ConnsSample `json:"clients"`
	Net      FlowSample  `json:"net"`
	Decode   FlowSample  `json:"decode"`
	Runtime  *Runtime    `json:"runtime,omitempty"`
}

// MeasureProc 读取进程的 CPU 和内存占用
func MeasureProc() (p Proc) {
	defer func() {
		// 部分平台不支持读取进程信息
		recover()
	}()

	var priv, virt int64
	var cpu float64
	p.Uptime = int32(time.Since(StartingTime).Seconds())
	process.ProcUsage(&cpu, &priv, &virt)
	p.CPU = cpu
	p.Priv = toKB(uint64(priv))
	p.Virt = toKB(uint64(virt))
	return
}

// MeasureRuntime 读取 Go 运行时统计
func MeasureRuntime() *Runtime {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &Runtime{
		Heap:       Memory{Inuse: toKB(m.HeapInuse), Sys: toKB(m.HeapSys)},
		Stack:      Memory{Inuse: toKB(m.StackInuse), Sys: toKB(m.StackSys)},
		HeapObjs:   int32(m.HeapObjects),
		GCCPU:      m.GCCPUFraction,
		NumGC:      m.NumGC,
		Goroutines: int32(runtime.NumGoroutine()),
	}
}

// Measure 汇总全局统计，full 为 true 时附带运行时信息
func Measure(full bool) *Snapshot {
	s := &Snapshot{
		Proc:     MeasureProc(),
		Decoders: Decoders.GetSample(),
		Sources:  Sources.GetSample(),
		Clients:  WsClients.GetSample(),
		Net:      NetFlow.GetSample(),
		Decode:   DecodeFlow.GetSample(),
	}
	if full {
		s.Runtime = MeasureRuntime()
	}
	return s
}

// toKB 字节转换为 KB，避免 int32 溢出
func toKB(v uint64) int32 {
	return int32(v / 1024)
}
