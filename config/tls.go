// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"crypto/tls"
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
)

// TLSConfig TLS listen 配置.
// Certificate 和 PrivateKey 可以是 PEM 文件路径，也可以直接是 PEM 内容。
type TLSConfig struct {
	ListenAddr  string `json:"listen"`
	Certificate string `json:"cert"`
	PrivateKey  string `json:"key"`
}

// Load 加载证书
func (c *TLSConfig) Load() (*tls.Config, error) {
	if c.PrivateKey == "" || c.Certificate == "" {
		return nil, errors.New("no certificate or private key configured")
	}

	cert, err := readPEM(c.Certificate)
	if err != nil {
		return nil, err
	}
	key, err := readPEM(c.PrivateKey)
	if err != nil {
		return nil, err
	}

	cer, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cer},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func readPEM(s string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(s), "-----BEGIN") {
		return []byte(s), nil
	}
	path, err := filepath.Abs(s)
	if err != nil {
		return nil, err
	}
	return ioutil.ReadFile(path)
}
