// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"fmt"
	"net"
	"strconv"

	"github.com/emitter-io/address"
)

// LocalIPs 获取本机的非回环 IPv4 地址
func LocalIPs() []string {
	addrs, _ := net.InterfaceAddrs()
	ips := []string{}
	for _, addr := range addrs {
		// 检查ip地址判断是否回环地址
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips
}

// URLs 侦听地址可以访问的 URL，未指定 IP 时列出本机全部地址
func URLs(scheme string, addr *net.TCPAddr) []string {
	port := strconv.Itoa(addr.Port)
	if addr.IP != nil && !addr.IP.IsUnspecified() {
		return []string{scheme + "://" + net.JoinHostPort(addr.IP.String(), port)}
	}

	urls := []string{scheme + "://" + net.JoinHostPort("127.0.0.1", port)}
	for _, ip := range LocalIPs() {
		urls = append(urls, scheme+"://"+net.JoinHostPort(ip, port))
	}
	return urls
}

// IsLocalhostIP 判断是否为本机IP
func IsLocalhostIP(ip net.IP) bool {
	for _, localhost := range loopbackBlocks {
		if localhost.Contains(ip) {
			return true
		}
	}
	privs, err := address.GetPrivate()
	if err != nil {
		return false
	}

	for _, priv := range privs {
		if priv.IP.Equal(ip) {
			return true
		}
	}

	return false
}

var loopbackBlocks = []*net.IPNet{
	parseCIDR("0.0.0.0/8"),   // RFC 1918 IPv4 loopback address
	parseCIDR("127.0.0.0/8"), // RFC 1122 IPv4 loopback address
	parseCIDR("::1/128"),     // RFC 1884 IPv6 loopback address
}

func parseCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(fmt.Sprintf("Bad CIDR %s: %s", s, err))
	}
	return block
}
