// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"runtime/debug"

	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/xlog"
	"golang.org/x/sync/errgroup"
)

// 工作协程
const (
	workerSrcInput = iota
	workerSrcOutput
	workerDstInput
	workerDstOutput
	workerNum
)

var workerNames = [workerNum]string{"src-input", "src-output", "dst-input", "dst-output"}

// waitProcessPause 组件暂停或空闲时在端口的暂停事件上等待
func (c *Component) waitProcessPause(port int) {
	p := c.ports[port]
	state, trans := c.State(), c.TransState()
	if (state == omx.StatePause || state == omx.StateIdle ||
		trans == omx.TransStateLoadedToIdle || trans == omx.TransStateExecutingToIdle) &&
		trans != omx.TransStateIdleToLoaded && !p.Flushing() {
		p.pauseEvent.WaitTimeout(c.opts.pauseMaxWait)
		if c.Exiting() {
			return
		}
		p.pauseEvent.Reset()
	}
}

// createWorkers 按 DstOutput、SrcOutput、DstInput、SrcInput 的顺序启动工作协程
func (c *Component) createWorkers() {
	c.exit.Set(false)
	for _, p := range c.ports {
		p.bufferSem.Reset()
		for _, sem := range p.enableSem {
			sem.Reset()
		}
	}

	c.g = &errgroup.Group{}
	loops := [workerNum]func(){
		workerSrcInput:  c.srcInputLoop,
		workerSrcOutput: c.srcOutputLoop,
		workerDstInput:  c.dstInputLoop,
		workerDstOutput: c.dstOutputLoop,
	}
	for _, id := range []int{workerDstOutput, workerSrcOutput, workerDstInput, workerSrcInput} {
		id := id
		done := make(chan struct{})
		c.workers[id] = done
		c.g.Go(func() error {
			defer close(done)
			c.guard(workerNames[id], loops[id])
			return nil
		})
	}
}

// guard 执行工作协程，panic 时记录日志并让其他工作协程退出
func (c *Component) guard(name string, loop func()) {
	logger := c.logger.With(xlog.Fields(xlog.F("worker", name)))
	defer func() {
		defer func() { // 避免回调再 panic
			recover()
		}()

		if r := recover(); r != nil {
			logger.Errorf("worker routine panic；r = %v \n %s", r, debug.Stack())
			c.exit.Set(true)
			c.notify()
			c.ErrorEvent(omx.ErrorUndefined)
		}
	}()

	logger.Debugf("worker started")
	loop()
	logger.Debugf("worker exited")
}

func (c *Component) joinWorker(id int) {
	if done := c.workers[id]; done != nil {
		<-done
	}
}

// terminateWorkers 设置退出标志，按 SrcInput、DstInput、SrcOutput、DstOutput
// 的顺序唤醒并等待工作协程退出
func (c *Component) terminateWorkers() {
	if c.g == nil {
		return
	}
	in := c.ports[omx.InputPortIndex]
	out := c.ports[omx.OutputPortIndex]

	c.exit.Set(true)
	c.notify()

	if in.bufferSem.Value() == 0 {
		in.bufferSem.Post()
	}
	if in.codecQ.Value() == 0 {
		in.codecQ.Wake()
	}
	in.pauseEvent.Set()
	in.enableSem[InputWay].Post()
	c.joinWorker(workerSrcInput)
	in.enableSem[InputWay].Reset()

	if out.bufferSem.Value() == 0 {
		out.bufferSem.Post()
	}
	if out.codecQ.Value() == 0 {
		out.codecQ.Wake()
	}
	c.codec.BufferProcessRun(omx.OutputPortIndex)
	out.pauseEvent.Set()
	out.enableSem[InputWay].Post()
	c.joinWorker(workerDstInput)
	out.enableSem[InputWay].Reset()

	c.codec.Stop(omx.InputPortIndex)
	c.codec.BufferProcessRun(omx.InputPortIndex)
	in.pauseEvent.Set()
	in.enableSem[OutputWay].Post()
	c.joinWorker(workerSrcOutput)
	in.enableSem[OutputWay].Reset()

	c.codec.Stop(omx.OutputPortIndex)
	c.codec.BufferProcessRun(omx.OutputPortIndex)
	out.pauseEvent.Set()
	out.enableSem[OutputWay].Post()
	c.joinWorker(workerDstOutput)
	out.enableSem[OutputWay].Reset()

	c.g.Wait()
	c.g = nil
	c.workers = [workerNum]chan struct{}{}
	c.resetStartCheck(false)
}

// srcInputLoop 从框架取码流缓冲，预处理后提交给硬件
func (c *Component) srcInputLoop() {
	in := c.ports[omx.InputPortIndex]
	out := c.ports[omx.OutputPortIndex]
	slot := in.Slot(InputWay)
	d := &in.processData
	var ret error

	for !c.Exiting() {
		c.waitProcessPause(omx.InputPortIndex)
		if !in.Enabled() {
			in.enableSem[InputWay].Wait()
			continue
		}
		ch := c.changes()
		if !c.CheckBufferProcessState(omx.InputPortIndex) {
			c.waitChange(ch)
			continue
		}

		for c.CheckBufferProcessState(omx.InputPortIndex) && !c.Exiting() {
			ch = c.changes()
			code := omx.Code(ret)
			if in.Flushing() ||
				(out.Exception() != ExceptionGeneral &&
					(code == omx.ErrorInputDataDecodeYet || code == omx.ErrorNoneSrcSetupFinish)) ||
				out.Exception() == ExceptionInvalid ||
				in.State() != omx.StateIdle {
				c.waitChange(ch)
				break
			}

			slot.Lock()
			if code != omx.ErrorInputDataDecodeYet {
				if in.mode.Is(ModeCopy) && (d.Planes[0].Addr == nil || d.Private == nil) {
					cb, err := in.codecQ.Dequeue()
					if c.Exiting() {
						slot.Unlock()
						return
					}
					if err == nil {
						codecBufferToData(cb, d, omx.InputPortIndex)
					}
					slot.Unlock()
					break
				}

				ok := false
				if slot.Valid {
					ok = c.preprocessInput(d)
				}
				if !ok && !in.Flushing() {
					ret = c.inputBufferGetQueue()
					if c.Exiting() {
						slot.Unlock()
						return
					}
					slot.Unlock()
					break
				}
				if in.Flushing() {
					slot.Unlock()
					break
				}
			}

			// 冲刷可能在取得锁之前发生
			if d.Header == nil {
				ret = nil
				slot.Unlock()
				break
			}

			ret = c.codec.SrcInputProcess(d)
			code = omx.Code(ret)
			if code.Corrupted() {
				if in.mode.Is(ModeCopy) {
					if cb := d.CodecBuffer(); cb != nil {
						in.codecQ.Enqueue(cb)
					}
				}
				if in.mode.Is(ModeShare) {
					c.EmptyBufferDone(d.Header)
				}
			}
			if code != omx.ErrorInputDataDecodeYet {
				d.Reset()
			}
			slot.Unlock()

			if code == omx.ErrorCodecInit {
				c.logger.Errorf("codec init failed, buffer process exits")
				c.exit.Set(true)
				c.notify()
			}
		}
	}
}

// srcOutputLoop 从硬件回收处理完的码流缓冲
func (c *Component) srcOutputLoop() {
	in := c.ports[omx.InputPortIndex]
	slot := in.Slot(OutputWay)
	var d Data

	for !c.Exiting() {
		if !in.Enabled() {
			in.enableSem[OutputWay].Wait()
			continue
		}

		for !c.Exiting() {
			ch := c.changes()
			if in.mode.Is(ModeCopy) && !c.CheckBufferProcessState(omx.InputPortIndex) {
				c.waitChange(ch)
				break
			}
			if in.Flushing() {
				c.waitChange(ch)
				break
			}

			slot.Lock()
			err := c.codec.SrcOutputProcess(&d)
			if err == nil {
				if in.mode.Is(ModeCopy) {
					if cb := d.CodecBuffer(); cb != nil {
						in.codecQ.Enqueue(cb)
					}
				}
				if in.mode.Is(ModeShare) {
					dataToBuffer(&d, slot)
					c.inputBufferReturn(slot)
				}
				d.Reset()
			}
			slot.Unlock()

			if err != nil && !c.CheckBufferProcessState(omx.InputPortIndex) {
				c.waitChange(ch)
			}
		}
	}
}

// dstInputLoop 把空的图像缓冲提交给硬件
func (c *Component) dstInputLoop() {
	out := c.ports[omx.OutputPortIndex]
	slot := out.Slot(InputWay)
	var d Data
	var ret error

	for !c.Exiting() {
		if !out.Enabled() {
			out.enableSem[InputWay].Wait()
			continue
		}
		ch := c.changes()
		if !c.CheckBufferProcessState(omx.OutputPortIndex) {
			c.waitChange(ch)
			continue
		}

		for c.CheckBufferProcessState(omx.OutputPortIndex) && !c.Exiting() {
			ch = c.changes()
			if out.Flushing() || !out.Populated() ||
				out.Exception() != ExceptionGeneral ||
				out.State() != omx.StateIdle {
				c.waitChange(ch)
				break
			}

			slot.Lock()
			if omx.Code(ret) != omx.ErrorOutputBufferUseYet {
				if out.mode.Is(ModeCopy) {
					var cb *CodecBuffer
					cb, ret = out.codecQ.Dequeue()
					if c.Exiting() {
						slot.Unlock()
						return
					}
					if ret != nil {
						slot.Unlock()
						break
					}
					codecBufferToData(cb, &d, omx.OutputPortIndex)
				}
				if out.mode.Is(ModeShare) {
					if !slot.Valid && !out.Flushing() {
						ret = c.outputBufferGetQueue()
						if c.Exiting() {
							slot.Unlock()
							return
						}
						if ret != nil {
							slot.Unlock()
							break
						}
						bufferToData(slot, &d, 2)
						slot.Reset()
					}
				}
				if out.Flushing() {
					slot.Unlock()
					break
				}
			}

			ret = c.codec.DstInputProcess(&d)
			if omx.Code(ret) != omx.ErrorOutputBufferUseYet {
				d.Reset()
			}
			slot.Unlock()
		}
	}
}

// dstOutputLoop 取回解码后的图像，后处理后归还框架
func (c *Component) dstOutputLoop() {
	out := c.ports[omx.OutputPortIndex]
	slot := out.Slot(OutputWay)
	d := &out.processData
	var ret error

	for !c.Exiting() {
		c.waitProcessPause(omx.OutputPortIndex)
		if !out.Enabled() {
			out.enableSem[OutputWay].Wait()
			continue
		}
		ch := c.changes()
		if !c.CheckBufferProcessState(omx.OutputPortIndex) {
			c.waitChange(ch)
			continue
		}

		for c.CheckBufferProcessState(omx.OutputPortIndex) && !c.Exiting() {
			ch = c.changes()
			if out.Flushing() {
				c.waitChange(ch)
				break
			}

			slot.Lock()
			if out.mode.Is(ModeCopy) && !slot.Valid && !out.Flushing() {
				ret = c.outputBufferGetQueue()
				if c.Exiting() {
					slot.Unlock()
					return
				}
				if ret != nil {
					slot.Unlock()
					break
				}
			}

			if slot.Valid || out.mode.Is(ModeShare) {
				ret = c.codec.DstOutputProcess(d)
			}
			if ret != ErrNoPicture && ((ret == nil && slot.Valid) || out.mode.Is(ModeShare)) {
				c.postprocessOutput(d)
			}

			if out.mode.Is(ModeCopy) {
				if cb := d.CodecBuffer(); cb != nil {
					out.codecQ.Enqueue(cb)
					d.Private = nil
				}
			}
			d.Reset()
			slot.Unlock()
		}
	}
}
