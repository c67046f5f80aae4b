// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"testing"
)

func TestSliceUint32(t *testing.T) {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[4:], 0x07230203)

	words := SliceUint32(data)
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(words))
	}
	if words[1] != binary.LittleEndian.Uint32(data[4:]) {
		t.Error("word does not alias the input")
	}
	if SliceUint32(data[:3]) != nil {
		t.Error("short input should yield nothing")
	}
}

func TestSafeStrings(t *testing.T) {
	got := safeStrings([]string{"VK_KHR_swapchain", ""})
	if got[0] != "VK_KHR_swapchain\x00" || got[1] != "\x00" {
		t.Errorf("unexpected %q", got)
	}
}

func BenchmarkSliceUint32Small(b *testing.B) {
	data := make([]byte, 100)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}

func BenchmarkSliceUint32Medium(b *testing.B) {
	data := make([]byte, 1000)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}

func BenchmarkSliceUint32Big(b *testing.B) {
	data := make([]byte, 100000)
	for idx := 0; idx < b.N; idx++ {
		SliceUint32(data)
	}
}
