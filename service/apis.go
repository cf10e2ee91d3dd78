// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cnotch/apirouter"
	"github.com/cnotch/vdec/config"
	"github.com/cnotch/vdec/network"
	"github.com/cnotch/vdec/pipeline"
	"github.com/cnotch/vdec/stats"
)

var (
	buffers = sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 1024*2))
		},
	}
)

var crossdomainxml = []byte(
	`<?xml version="1.0" ?><cross-domain-policy>
			<allow-access-from domain="*" />
			<allow-http-request-headers-from domain="*" headers="*"/>
		</cross-domain-policy>`)

func (s *Service) initApis(mux *http.ServeMux) {
	api := apirouter.NewForGRPC(
		// 系统信息类API
		apirouter.GET("/api/v1/server", s.onGetServerInfo),
		apirouter.GET("/api/v1/runtime", s.onGetRuntime),

		// 解码实例管理API
		apirouter.GET("/api/v1/decoders", s.onListDecoders),
		apirouter.POST("/api/v1/decoders", s.onStartDecoder),
		apirouter.GET("/api/v1/decoders/{id=*}", s.onGetDecoderInfo),
		apirouter.DELETE("/api/v1/decoders/{id=*}", s.onStopDecoder),
		apirouter.POST("/api/v1/decoders/{id=*}:flush", s.control((*pipeline.Pipeline).Flush)),
		apirouter.POST("/api/v1/decoders/{id=*}:pause", s.control((*pipeline.Pipeline).Pause)),
		apirouter.POST("/api/v1/decoders/{id=*}:resume", s.control((*pipeline.Pipeline).Resume)),
		apirouter.POST("/api/v1/decoders/{id=*}:restart", s.control((*pipeline.Pipeline).RestartOutput)),
	)

	iterc := apirouter.ChainInterceptor(apirouter.PreInterceptor(localInterceptor))

	// api add to mux
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if path.Base(r.URL.Path) == "crossdomain.xml" {
			w.Header().Set("Content-Type", "application/xml")
			w.Write(crossdomainxml)
			return
		}

		if iterc.PreHandle(w, r) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			api.ServeHTTP(w, r)
		}
	})
}

// 获取服务信息
func (s *Service) onGetServerInfo(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	type server struct {
		Vendor   string `json:"vendor"`
		Name     string `json:"name"`
		Version  string `json:"version"`
		OS       string `json:"os"`
		Arch     string `json:"arch"`
		StartOn  string `json:"start_on"`
		Duration string `json:"duration"`
	}
	srv := server{
		Vendor:   config.Vendor,
		Name:     config.Name,
		Version:  config.Version,
		OS:       strings.Title(runtime.GOOS),
		Arch:     strings.ToUpper(runtime.GOARCH),
		StartOn:  stats.StartingTime.Format(time.RFC3339Nano),
		Duration: time.Now().Sub(stats.StartingTime).String(),
	}

	if err := jsonTo(w, &srv); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// 获取运行时信息
func (s *Service) onGetRuntime(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	const extraKey = "extra"

	type runtime struct {
		On        string `json:"on"`
		Pipelines int    `json:"pipelines"`
		*stats.Snapshot
	}

	params := r.URL.Query()
	rt := runtime{
		On:        time.Now().Format(time.RFC3339Nano),
		Pipelines: pipeline.Count(),
		Snapshot:  stats.Measure(strings.TrimSpace(params.Get(extraKey)) == "1"),
	}

	if err := jsonTo(w, &rt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) onListDecoders(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	params := r.URL.Query()
	pageSize, pageToken, err := listParamers(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	includeDecoder := strings.TrimSpace(params.Get("d")) == "1"

	count, infos := pipeline.Infos(pageToken, pageSize, includeDecoder)
	type decoderInfos struct {
		Total         int              `json:"total"`
		NextPageToken string           `json:"next_page_token"`
		Decoders      []*pipeline.Info `json:"decoders,omitempty"`
	}

	list := &decoderInfos{
		Total:    count,
		Decoders: infos,
	}
	if len(infos) > 0 {
		list.NextPageToken = infos[len(infos)-1].ID
	}

	if err := jsonTo(w, list); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// 从 Annex-B 文件启动解码
func (s *Service) onStartDecoder(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	type startRequest struct {
		File string `json:"file"`
		FPS  int    `json:"fps"`
		Loop bool   `json:"loop"`
	}

	var req startRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		// 尝试 Form解析
		req.File = r.FormValue("file")
		req.FPS, _ = strconv.Atoi(r.FormValue("fps"))
		req.Loop = r.FormValue("loop") == "1"
	}
	if len(req.File) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}

	p, err := s.StartFile(req.File, req.FPS, req.Loop)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := jsonTo(w, p.Info(false)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) onGetDecoderInfo(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	p := decoderOf(w, r, pathParams)
	if p == nil {
		return
	}

	if err := jsonTo(w, p.Info(true)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) onStopDecoder(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
	p := decoderOf(w, r, pathParams)
	if p == nil {
		return
	}

	pipeline.Unregist(p)
	w.WriteHeader(http.StatusOK)
}

// control 对解码实例执行控制操作
func (s *Service) control(op func(*pipeline.Pipeline) error) func(http.ResponseWriter, *http.Request, apirouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) {
		p := decoderOf(w, r, pathParams)
		if p == nil {
			return
		}

		switch err := op(p); err {
		case nil:
			w.WriteHeader(http.StatusOK)
		case pipeline.ErrNotRunning:
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func decoderOf(w http.ResponseWriter, r *http.Request, pathParams apirouter.Params) *pipeline.Pipeline {
	id, err := pipeline.ParseID(pathParams.ByName("id"))
	if err != nil {
		http.Error(w, "invalid decoder id", http.StatusBadRequest)
		return nil
	}

	p := pipeline.Get(id)
	if p == nil {
		http.NotFound(w, r)
	}
	return p
}

func jsonTo(w io.Writer, o interface{}) error {
	formatted := buffers.Get().(*bytes.Buffer)
	formatted.Reset()
	defer buffers.Put(formatted)

	body, err := json.Marshal(o)
	if err != nil {
		return err
	}

	if err := json.Indent(formatted, body, "", "\t"); err != nil {
		return err
	}

	if _, err := w.Write(formatted.Bytes()); err != nil {
		return err
	}
	return nil
}

func listParamers(params url.Values) (pageSize int, pageToken pipeline.ID, err error) {
	pageSizeStr := params.Get("page_size")
	pageSize = 20
	if pageSizeStr != "" {
		if pageSize, err = strconv.Atoi(pageSizeStr); err != nil {
			return
		}
	}
	if token := params.Get("page_token"); token != "" {
		pageToken, err = pipeline.ParseID(token)
	}
	return
}

// 查询以外的请求只接受本机和内网地址
func localInterceptor(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && network.IsLocalhostIP(ip) {
			return true
		}
	}

	http.Error(w, "访问被拒绝，只接受本机的管理请求", http.StatusForbidden)
	return false
}
