// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"testing"
	"time"
)

func TestAddAndWrite(t *testing.T) {
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	if err := builder.Add("test", bytes.NewReader([]byte("idunvovkjnreovmegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}
	if err := builder.Add("test2", bytes.NewReader([]byte("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}

	if len(builder.files) != 2 {
		t.Error("incorrect number of files present")
	}
	if err := builder.Add("test", bytes.NewReader([]byte("again"))); err == nil {
		t.Error("adding a name twice must fail")
	}

	var buf bytes.Buffer
	written, err := builder.WriteTo(&buf)
	if err != nil {
		t.Error(err)
	}
	if written != int64(buf.Len()) {
		t.Errorf("reported %d bytes written, buffer holds %d", written, buf.Len())
	}
	if builder.Len() != 0 {
		t.Error("builder not emptied by WriteTo")
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("KAR\x00")) {
		t.Error("magic missing")
	}
}

func TestClose(t *testing.T) {
	builder, err := NewBuilder(Header{Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := builder.Close(); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(builder.tempDir); !os.IsNotExist(err) {
		t.Error("temporary directory left behind")
	}
}

func TestHeaderLayout(t *testing.T) {
	header := Header{Author: "devblok", Version: 2}
	head, err := header.marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(head, magic[:]) {
		t.Fatal("magic missing")
	}
	size := int64(len(head) - MagicLength - HeaderSizeNumberLength)
	if got := int64(binary.LittleEndian.Uint64(head[MagicLength:])); got != size {
		t.Errorf("size field holds %d, header is %d bytes", got, size)
	}
	for _, b := range head[MagicLength+8 : MagicLength+HeaderSizeNumberLength] {
		if b != 0 {
			t.Fatal("size field padding is not zeroed")
		}
	}

	decoded, offset, err := readHeader(bytes.NewReader(head))
	if err != nil {
		t.Fatal(err)
	}
	if offset != int64(len(head)) {
		t.Errorf("data offset %d, expected %d", offset, len(head))
	}
	if decoded.Author != "devblok" || decoded.Version != 2 {
		t.Errorf("unexpected header %+v", decoded)
	}
}

func TestCorruptIndexRejected(t *testing.T) {
	for name, index := range map[string][]IndexEntry{
		"negative offset": {{Name: "a", Offset: -8, Size: 1, CompressedSize: 1}},
		"negative size":   {{Name: "a", Size: -1}},
		"duplicate name":  {{Name: "a"}, {Name: "a", Offset: 4}},
	} {
		header := Header{Version: 1, Index: index}
		head, err := header.marshal()
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := readHeader(bytes.NewReader(head)); !errors.Is(err, ErrFileFormat) {
			t.Errorf("%s: expected ErrFileFormat, got %v", name, err)
		}
	}

	truncated := []byte("KAR\x00\x10")
	if _, _, err := readHeader(bytes.NewReader(truncated)); !errors.Is(err, ErrFileFormat) {
		t.Errorf("truncated prefix: expected ErrFileFormat, got %v", err)
	}
}
