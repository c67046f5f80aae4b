// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/radiance/utility/kar"
	"golang.org/x/exp/mmap"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil {
		currentUserName = u.Name
	}
}

var (
	currentUserName string
	author          = flag.String("author", "", "Set the author of the package when compressing")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	extract         = flag.String("e", "", "Extract the file given")
	compress        = flag.String("c", "", "Compress the given file/folder")
	dstFile         = flag.String("f", "out.kar", "Destination file, or directory when extracting")
	list            = flag.String("l", "", "List the contents of the file given")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()

	ops := 0
	for _, op := range []string{*extract, *compress, *list} {
		if op != "" {
			ops++
		}
	}
	if ops > 1 {
		fail(errors.New("only one operation at a time"))
	}

	var err error
	switch {
	case *extract != "":
		err = extractFiles()
	case *compress != "":
		err = compressFiles()
	case *list != "":
		err = listFiles()
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func logf(format string, args ...interface{}) {
	if !*silent {
		fmt.Printf(format+"\n", args...)
	}
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if err := filepath.Walk(*compress, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	for _, ftc := range filesToCompress {
		rel, err := filepath.Rel(*compress, ftc)
		if err != nil || rel == "." {
			rel = filepath.Base(ftc)
		}
		if err := addFile(karBuilder, rel, ftc); err != nil {
			return err
		}
		logf("added %s", rel)
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	written, err := karBuilder.WriteTo(dst)
	if err != nil {
		return err
	}
	logf("wrote %d files, %d bytes to %s", len(filesToCompress), written, *dstFile)
	return nil
}

func addFile(b *kar.Builder, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Add(name, f)
}

func openArchive(file string) (*kar.Archive, *mmap.ReaderAt, error) {
	mapped, err := mmap.Open(file)
	if err != nil {
		return nil, nil, err
	}
	ar, err := kar.Open(mapped)
	if err != nil {
		mapped.Close()
		return nil, nil, err
	}
	return ar, mapped, nil
}

func extractFiles() error {
	ar, mapped, err := openArchive(*extract)
	if err != nil {
		return err
	}
	defer mapped.Close()

	dir := *dstFile
	if dir == "out.kar" {
		dir = strings.TrimSuffix(filepath.Base(*extract), filepath.Ext(*extract))
	}

	for _, name := range ar.Names() {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if rel, err := filepath.Rel(dir, target); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%s: escapes the destination", name)
		}
		if err := extractFile(ar, name, target); err != nil {
			return err
		}
		logf("extracted %s", name)
	}
	return nil
}

func extractFile(ar *kar.Archive, name, target string) error {
	r, err := ar.Open(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func listFiles() error {
	ar, mapped, err := openArchive(*list)
	if err != nil {
		return err
	}
	defer mapped.Close()

	h := ar.Header()
	fmt.Printf("author: %s, version: %d, created: %s\n", h.Author, h.Version, time.Unix(h.DateCreated, 0).Format(time.RFC3339))
	for _, name := range ar.Names() {
		e, _ := ar.Stat(name)
		fmt.Printf("%10d %10d %s\n", e.Size, e.CompressedSize, name)
	}
	return nil
}
