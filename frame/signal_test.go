// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package frame_test

import (
	"testing"

	"github.com/devblok/radiance/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal(t *testing.T) {
	var sig frame.Signal[uint32]
	sig.Emit(1)

	var got []uint32
	sig.Connect(func(v uint32) { got = append(got, v) })
	sig.Connect(func(v uint32) { got = append(got, v*10) })
	sig.Emit(3)

	assert.Equal(t, []uint32{3, 30}, got)
}

func TestParseCommand(t *testing.T) {
	for _, c := range []frame.Command{frame.Enable, frame.Disable, frame.Toggle, frame.Rerecord} {
		parsed, err := frame.ParseCommand(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := frame.ParseCommand("explode")
	assert.Error(t, err)
	assert.Equal(t, "toggle lighting", frame.Control{Command: frame.Toggle, Pass: "lighting"}.String())
}
