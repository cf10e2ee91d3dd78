// Copyright (c) 2019,CAOHONGJU All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vdec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferMode_Text(t *testing.T) {
	tests := []struct {
		text string
		want BufferMode
	}{
		{"share", ModeShare},
		{"COPY", ModeCopy},
		{" both ", ModeShare | ModeCopy},
		{"copy|share", ModeShare | ModeCopy},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			var m BufferMode
			require.NoError(t, m.Set(tt.text))
			assert.Equal(t, tt.want, m)
		})
	}

	var m BufferMode
	assert.Error(t, m.Set("zero"))

	type conf struct {
		In  BufferMode `json:"in"`
		Out BufferMode `json:"out"`
	}
	data, err := json.Marshal(conf{ModeShare, ModeCopy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"in":"share","out":"copy"}`, string(data))

	var c conf
	require.NoError(t, json.Unmarshal([]byte(`{"in":"copy","out":"share|copy"}`), &c))
	assert.Equal(t, conf{ModeCopy, ModeShare | ModeCopy}, c)
}
