// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"os"

	"github.com/cnotch/xlog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      xlog.Level `json:"level"`      // 日志级别
	ToFile     bool       `json:"tofile"`     // 记录到滚动文件，格式为 JSON
	Quiet      bool       `json:"quiet"`      // 记录到文件时不再输出控制台
	Filename   string     `json:"filename"`   // 相对路径以程序目录为基准
	MaxSize    int        `json:"maxsize"`    // 单个文件的最大尺寸，单位 M
	MaxDays    int        `json:"maxdays"`    // 旧文件保存天数
	MaxBackups int        `json:"maxbackups"` // 旧文件保存数量，同时受 MaxDays 限制
	Compress   bool       `json:"compress"`   // gzip 压缩旧文件
}

func (c *LogConfig) initFlags() {
	flag.Var(&c.Level, "log-level",
		"Set the log level to output")
	flag.BoolVar(&c.ToFile, "log-tofile", false,
		"Determines if logs should be saved to file")
	flag.BoolVar(&c.Quiet, "log-quiet", false,
		"Determines if console output is disabled when logs are saved to file")
	flag.StringVar(&c.Filename, "log-filename",
		"logs/"+Name+".log", "Set the file to write logs to")
	flag.IntVar(&c.MaxSize, "log-maxsize", 20,
		"Set the maximum size in megabytes of the log file before it gets rotated")
	flag.IntVar(&c.MaxDays, "log-maxdays", 7,
		"Set the maximum days of old log files to retain")
	flag.IntVar(&c.MaxBackups, "log-maxbackups", 14,
		"Set the maximum number of old log files to retain")
	flag.BoolVar(&c.Compress, "log-compress", false,
		"Determines if the log files should be compressed")
}

// initLogger 替换全局日志，所有日志附带服务名
func (c *LogConfig) initLogger() {
	core := xlog.NewCore(xlog.NewConsoleEncoder(xlog.LstdFlags|xlog.Lmicroseconds|xlog.Llongfile),
		xlog.Lock(os.Stderr), c.Level)

	if c.ToFile {
		file := xlog.NewCore(xlog.NewJSONEncoder(xlog.Llongfile), &lumberjack.Logger{
			Filename:   c.Filename,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxDays,
			LocalTime:  true,
			Compress:   c.Compress,
		}, c.Level)

		if c.Quiet {
			core = file
		} else {
			core = xlog.NewTee(core, file)
		}
	}

	xlog.ReplaceGlobal(xlog.New(core, xlog.AddCaller()).
		With(xlog.Fields(xlog.F("service", Name))))
}
