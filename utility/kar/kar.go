// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kar reads and writes kar archives, a memory mappable bundle of
// individually lz4 compressed files. The index sits in front of the data,
// so any file can be located and decompressed without scanning the
// archive, and an Archive can be read from concurrently.
//
// An archive starts with the magic "KAR\x00", followed by the length of the
// gob encoded Header as a little endian uint64 in a HeaderSizeNumberLength
// byte field, the Header itself and the compressed files back to back.
// Index offsets count from the first byte after the Header.
package kar

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// package errors
var (
	ErrFileFormat = errors.New("corrupted or not a kar archive")
	ErrNotExist   = errors.New("file does not exist in the archive")
	ErrTempFail   = errors.New("temporary folder or file operation failed")
)

// Sizes relevant to the header of file
const (
	MagicLength            = 4
	HeaderSizeNumberLength = 16

	prefixLength = MagicLength + HeaderSizeNumberLength
)

var magic = [MagicLength]byte{'K', 'A', 'R', '\x00'}

// IndexEntry is info for one file in the file index.
type IndexEntry struct {
	Name           string
	Offset         int64
	Size           int64
	CompressedSize int64
}

// Header is the file header for kar files.
type Header struct {
	Author      string
	DateCreated int64
	Version     int64
	Index       []IndexEntry
}

// marshal returns the magic, the size field and the encoded header.
func (h *Header) marshal() ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(h); err != nil {
		return nil, err
	}
	out := make([]byte, prefixLength, prefixLength+body.Len())
	copy(out, magic[:])
	binary.LittleEndian.PutUint64(out[MagicLength:], uint64(body.Len()))
	return append(out, body.Bytes()...), nil
}

// validate rejects indexes a reader could be sent out of bounds by.
func (h *Header) validate() error {
	seen := make(map[string]bool, len(h.Index))
	for _, e := range h.Index {
		if e.Offset < 0 || e.Size < 0 || e.CompressedSize < 0 {
			return fmt.Errorf("entry %q: negative offset or size: %w", e.Name, ErrFileFormat)
		}
		if seen[e.Name] {
			return fmt.Errorf("entry %q listed twice: %w", e.Name, ErrFileFormat)
		}
		seen[e.Name] = true
	}
	return nil
}

// readHeader decodes the header at the start of r and returns it with the
// offset of the first data byte.
func readHeader(r io.ReaderAt) (Header, int64, error) {
	prefix := make([]byte, prefixLength)
	if err := readFull(r, prefix, 0); err != nil {
		return Header{}, 0, err
	}
	if !bytes.Equal(prefix[:MagicLength], magic[:]) {
		return Header{}, 0, ErrFileFormat
	}
	size := binary.LittleEndian.Uint64(prefix[MagicLength:])
	if size == 0 || size > 1<<31 {
		return Header{}, 0, ErrFileFormat
	}

	body := make([]byte, size)
	if err := readFull(r, body, prefixLength); err != nil {
		return Header{}, 0, err
	}
	var header Header
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&header); err != nil {
		return Header{}, 0, ErrFileFormat
	}
	if err := header.validate(); err != nil {
		return Header{}, 0, err
	}
	return header, prefixLength + int64(size), nil
}

// readFull fills buf from off. Running out of data is a format error.
func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		return ErrFileFormat
	}
	return err
}
