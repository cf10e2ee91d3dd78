/**********************************************************************************
* Copyright (c) 2009-2017 Misakai Ltd.
* This program is free software: you can redistribute it and/or modify it under the
* terms of the GNU Affero General Public License as published by the  Free Software
* Foundation, either version 3 of the License, or(at your option) any later version.
*
* This program is distributed  in the hope that it  will be useful, but WITHOUT ANY
* WARRANTY;  without even  the implied warranty of MERCHANTABILITY or FITNESS FOR A
* PARTICULAR PURPOSE.  See the GNU Affero General Public License  for  more details.
*
* You should have  received a copy  of the  GNU Affero General Public License along
* with this program. If not, see<http://www.gnu.org/licenses/>.
************************************************************************************/
//
// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// ID 进程内唯一的解码实例编号
type ID uint64

// 以秒数为种子，避免进程重启后编号重复
var nextID = uint64(
	time.Now().Sub(time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC)).Seconds(),
)

// NewID 生成新的实例编号
func NewID() ID {
	return ID(atomic.AddUint64(&nextID, 1))
}

// ParseID 解析 String 的输出
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return ID(v), err
}

// String 十进制表示
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Key 由编号、启动时间和来源名称派生的不透明键，
// 订阅事件的客户端用它区分同一编号的不同运行
func (id ID) Key(startOn time.Time, salt string) string {
	buffer := [16]byte{}
	binary.BigEndian.PutUint64(buffer[:8], uint64(startOn.UnixNano()))
	binary.BigEndian.PutUint64(buffer[8:], uint64(id))

	enc := pbkdf2.Key(buffer[:], []byte(salt), 4096, 16, sha1.New)
	return strings.Trim(base32.StdEncoding.EncodeToString(enc), "=")
}
