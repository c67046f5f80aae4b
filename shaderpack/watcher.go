// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shaderpack

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reports the names of shaders whose files change on disk.
// Names are delivered on a buffered channel and dropped when nobody
// drains it; the render loop polls it once per frame.
type Watcher struct {
	watcher *fsnotify.Watcher
	names   chan string
	done    chan struct{}
	log     logrus.FieldLogger
}

// Watch starts watching a shader directory.
func Watch(dir string, logger logrus.FieldLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher: fw,
		names:   make(chan string, 16),
		done:    make(chan struct{}),
		log:     logger.WithField("dir", dir),
	}
	go w.run()
	return w, nil
}

// Names delivers changed shader names.
func (w *Watcher) Names() <-chan string {
	return w.names
}

// Pending drains every name delivered so far, without duplicates.
func (w *Watcher) Pending() []string {
	var names []string
	seen := make(map[string]bool)
	for {
		select {
		case name := <-w.names:
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		default:
			return names
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, _, ok := ShaderName(event.Name)
			if !ok {
				continue
			}
			select {
			case w.names <- name:
			default:
				w.log.WithField("shader", name).Warn("reload queue full, change dropped")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("shader watcher")
		}
	}
}
