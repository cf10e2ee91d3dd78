// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalhostIP(t *testing.T) {
	assert.True(t, IsLocalhostIP(net.ParseIP("127.0.0.1")))
	assert.True(t, IsLocalhostIP(net.ParseIP("::1")))
	assert.False(t, IsLocalhostIP(net.ParseIP("8.8.8.8")))
}

func TestURLs(t *testing.T) {
	urls := URLs("http", &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 1554})
	assert.Equal(t, []string{"http://10.1.2.3:1554"}, urls)

	urls = URLs("https", &net.TCPAddr{Port: 1443})
	assert.Equal(t, "https://127.0.0.1:1443", urls[0])
	assert.Len(t, urls, len(LocalIPs())+1)
}
