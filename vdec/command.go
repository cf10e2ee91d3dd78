// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/cnotch/vdec/omx"
	"github.com/cnotch/vdec/stats"
)

// command 框架发来的命令，在命令协程中依次执行
type command struct {
	cmd   omx.Command
	param int
	data  interface{}
}

// SendCommand 异步执行命令，完成后通过 EventCmdComplete 通知
func (c *Component) SendCommand(cmd omx.Command, param int, data interface{}) error {
	if c.closed.Get() {
		return omx.ErrorInvalidState
	}

	switch cmd {
	case omx.CommandStateSet:
		if s := omx.State(param); s < omx.StateInvalid || s > omx.StateWaitForResources {
			return omx.ErrorBadParameter
		}
	case omx.CommandFlush, omx.CommandPortDisable, omx.CommandPortEnable:
		if param != omx.AllPortIndex && (param < 0 || param >= omx.PortNum) {
			return omx.ErrorBadParameter
		}
	case omx.CommandMarkBuffer:
		if param < 0 || param >= omx.PortNum {
			return omx.ErrorBadParameter
		}
		if _, ok := data.(*omx.Mark); !ok {
			return omx.ErrorBadParameter
		}
	default:
		return omx.ErrorBadParameter
	}

	c.cmdQ.Push(&command{cmd: cmd, param: param, data: data})
	return nil
}

func (c *Component) processCommands() {
	defer c.cmdWG.Done()
	defer func() {
		defer func() { // 避免回调再 panic
			recover()
		}()

		if r := recover(); r != nil {
			c.logger.Errorf("command routine panic；r = %v \n %s", r, debug.Stack())
		}
		c.cmdQ.Reset()
	}()

	for !c.closed.Get() {
		v := c.cmdQ.Pop()
		if v == nil {
			continue
		}

		cmd := v.(*command)
		c.cmdMu.Lock()
		c.execute(cmd)
		c.cmdMu.Unlock()
	}
}

func (c *Component) execute(cmd *command) {
	c.logger.Debugf("execute command %s(%d)", cmd.cmd, cmd.param)

	switch cmd.cmd {
	case omx.CommandStateSet:
		if err := c.setStateTo(omx.State(cmd.param)); err != nil {
			c.logger.Errorf("state set %s -> %s failed: %v", c.State(), omx.State(cmd.param), err)
			c.ErrorEvent(err)
			return
		}
		c.Event(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(cmd.param), nil)
	case omx.CommandFlush:
		for _, port := range portsOf(cmd.param) {
			if s := c.State(); s != omx.StateExecuting && s != omx.StatePause && s != omx.StateIdle {
				c.ErrorEvent(omx.ErrorIncorrectStateOperation)
				return
			}
			c.BufferFlush(port, true)
		}
	case omx.CommandPortDisable:
		for _, port := range portsOf(cmd.param) {
			c.portDisable(port)
		}
	case omx.CommandPortEnable:
		for _, port := range portsOf(cmd.param) {
			if err := c.portEnable(port); err != nil {
				c.ErrorEvent(err)
			}
		}
	case omx.CommandMarkBuffer:
		p := c.ports[cmd.param]
		mark := cmd.data.(*omx.Mark)
		c.markMu.Lock()
		p.mark = *mark
		c.markMu.Unlock()
		c.Event(omx.EventCmdComplete, uint32(omx.CommandMarkBuffer), uint32(cmd.param), nil)
	}
}

func portsOf(param int) []int {
	if param == omx.AllPortIndex {
		return []int{omx.InputPortIndex, omx.OutputPortIndex}
	}
	return []int{param}
}

// setStateTo 执行状态切换
func (c *Component) setStateTo(to omx.State) error {
	from := c.State()
	if from == to {
		return omx.ErrorIncorrectStateOperation
	}

	switch {
	case from == omx.StateLoaded && to == omx.StateIdle:
		return c.loadedToIdle()
	case from == omx.StateIdle && to == omx.StateExecuting,
		from == omx.StatePause && to == omx.StateExecuting:
		if from == omx.StateIdle {
			c.setTransState(omx.TransStateIdleToExecuting)
			c.resetStartCheck(true)
		}
		c.setState(omx.StateExecuting)
		c.setTransState(omx.TransStateInvalid)
		for _, p := range c.ports {
			p.pauseEvent.Set()
		}
	case from == omx.StateExecuting && to == omx.StatePause,
		from == omx.StateIdle && to == omx.StatePause:
		c.setState(omx.StatePause)
	case (from == omx.StateExecuting || from == omx.StatePause) && to == omx.StateIdle:
		c.setTransState(omx.TransStateExecutingToIdle)
		for i := range c.ports {
			if c.ports[i].Enabled() {
				c.BufferFlush(i, false)
			}
		}
		c.setState(omx.StateIdle)
		c.setTransState(omx.TransStateInvalid)
	case from == omx.StateIdle && to == omx.StateLoaded:
		return c.idleToLoaded()
	case to == omx.StateInvalid:
		if from != omx.StateLoaded {
			c.terminateWorkers()
			c.codec.Terminate()
		}
		c.setState(omx.StateInvalid)
		for _, p := range c.ports {
			p.setState(omx.StateInvalid)
			p.SetException(ExceptionInvalid)
		}
		c.notify()
		return omx.ErrorInvalidState
	default:
		return omx.ErrorIncorrectStateOperation
	}
	return nil
}

func (c *Component) loadedToIdle() error {
	c.setTransState(omx.TransStateLoadedToIdle)
	for _, p := range c.ports {
		p.setState(omx.StateIdle)
	}

	if err := c.codec.Init(c); err != nil {
		for _, p := range c.ports {
			p.setState(omx.StateLoaded)
		}
		c.setTransState(omx.TransStateInvalid)
		return err
	}
	c.createWorkers()

	for _, p := range c.ports {
		if !p.Enabled() {
			continue
		}
		for !p.Populated() && !c.closed.Get() {
			p.loaded.WaitTimeout(c.opts.pauseMaxWait)
		}
		p.loaded.Reset()
	}

	c.setState(omx.StateIdle)
	c.setTransState(omx.TransStateInvalid)
	return nil
}

func (c *Component) idleToLoaded() error {
	c.setTransState(omx.TransStateIdleToLoaded)
	c.terminateWorkers()
	if err := c.codec.Terminate(); err != nil {
		c.logger.Errorf("codec terminate failed: %v", err)
	}

	for _, p := range c.ports {
		p.setState(omx.StateLoaded)
	}
	c.notify()
	for _, p := range c.ports {
		for p.Assigned() > 0 && !c.closed.Get() {
			p.unloaded.WaitTimeout(c.opts.pauseMaxWait)
		}
		p.unloaded.Reset()
	}

	c.setState(omx.StateLoaded)
	c.setTransState(omx.TransStateInvalid)
	return nil
}

// portDisable 冲刷端口并等待框架释放全部缓冲
func (c *Component) portDisable(port int) {
	p := c.ports[port]
	state := c.State()
	if state == omx.StateExecuting || state == omx.StatePause {
		c.BufferFlush(port, false)
	}

	p.UpdateDefinition(func(def *omx.PortDefinition) { def.Enabled = false })
	if state != omx.StateLoaded {
		p.setState(omx.StateLoaded)
		c.notify()
		p.resetBufferQ()
		for p.Assigned() > 0 && !c.closed.Get() {
			p.unloaded.WaitTimeout(c.opts.pauseMaxWait)
		}
		p.unloaded.Reset()
		p.UpdateDefinition(func(def *omx.PortDefinition) { def.Populated = false })
	}
	c.logger.Infof("port %d disabled", port)
	c.Event(omx.EventCmdComplete, uint32(omx.CommandPortDisable), uint32(port), nil)
}

// portEnable 等待框架重新登记缓冲后恢复端口上的工作协程
func (c *Component) portEnable(port int) error {
	p := c.ports[port]
	if c.State() != omx.StateLoaded {
		p.setState(omx.StateIdle)
		for !p.Populated() && !c.closed.Get() {
			p.loaded.WaitTimeout(c.opts.pauseMaxWait)
			if p.Exception() == ExceptionInvalid {
				p.SetException(ExceptionNeedPortDisable)
				return omx.ErrorInvalidState
			}
		}
		p.loaded.Reset()
	}

	p.SetException(ExceptionGeneral)
	p.UpdateDefinition(func(def *omx.PortDefinition) { def.Enabled = true })
	c.notify()
	for _, sem := range p.enableSem {
		sem.Post()
	}
	c.logger.Infof("port %d enabled", port)
	c.Event(omx.EventCmdComplete, uint32(omx.CommandPortEnable), uint32(port), nil)
	return nil
}

// Close 停止命令协程和工作协程，释放编解码缓冲
func (c *Component) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed.v, 0, 1) {
		return nil
	}

	// 等待正在执行的命令结束
	c.cmdQ.Signal()
	c.cmdWG.Wait()

	if c.State() != omx.StateLoaded && c.State() != omx.StateInvalid {
		c.setTransState(omx.TransStateIdleToLoaded)
		c.terminateWorkers()
		c.codec.Terminate()
	}
	for i := range c.ports {
		c.FreeCodecBuffers(i)
	}
	c.setState(omx.StateLoaded)
	c.setTransState(omx.TransStateInvalid)

	stats.Decoders.Release()
	c.logger.Info("decoder closed")
	return nil
}
