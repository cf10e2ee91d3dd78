// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/cnotch/scheduler"
	"github.com/cnotch/vdec/config"
	"github.com/cnotch/vdec/service"
	"github.com/cnotch/xlog"
)

func main() {
	// 初始化配置
	config.InitConfig()
	// 初始化全局计划任务
	scheduler.SetPanicHandler(func(job *scheduler.ManagedJob, r interface{}) {
		xlog.Errorf("scheduler task panic. tag: %v, recover: %v", job.Tag, r)
	})

	// Start new service
	svc, err := service.NewService(context.Background(), xlog.L())
	if err != nil {
		xlog.L().Panic(err.Error())
	}

	// 配置了文件来源时立即开始解码
	if src := config.Source(); src.File != "" {
		if _, err := svc.StartFile(src.File, src.FPS, src.Loop); err != nil {
			xlog.L().Errorf("decode `%s` failed: %v", src.File, err)
		}
	}

	// Listen and serve
	svc.Listen()
}
