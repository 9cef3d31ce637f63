// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package filestore

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
)

// walker scans the objects in a store, skipping its temporary
// directory, and exposes a scanner-like interface.
type walker struct {
	err  error
	path string
	info os.FileInfo
	todo []string
	dgst digest.Digest
}

func (w *walker) Init(s *Store) {
	w.todo = append(w.todo, s.Root)
}

func (w *walker) Digest() digest.Digest {
	return w.dgst
}

func (w *walker) Err() error {
	return w.err
}

func (w *walker) Path() string {
	return w.path
}

func (w *walker) Info() os.FileInfo {
	return w.info
}

// Scan advances the walker to the next object in the store.
// It returns false either when the scan stops because we have
// reached the end of the input or else because there was an error.
// After Scan returns, the Err method returns any error that
// occurred during scanning.
func (w *walker) Scan() bool {
	for {
		if len(w.todo) == 0 || w.err != nil {
			return false
		}
		w.path, w.todo = w.todo[0], w.todo[1:]
		w.info, w.err = os.Stat(w.path)
		if os.IsNotExist(w.err) {
			w.err = nil
			continue
		} else if w.err != nil {
			return false
		}
		if w.info.IsDir() {
			if filepath.Base(w.path) == "tmp" {
				continue
			}
			var paths []string
			paths, w.err = readDirNames(w.path)
			if w.err != nil {
				return false
			}
			for i := range paths {
				paths[i] = filepath.Join(w.path, paths[i])
			}
			w.todo = append(paths, w.todo...)
			continue
		}
		first, last := filepath.Base(filepath.Dir(w.path)), filepath.Base(w.path)
		w.dgst, w.err = pipeflow.Digester.Parse(first + last)
		if w.err != nil {
			return false
		}
		return true
	}
}

// readDirNames reads the directory named by dirname and returns
// a sorted list of directory entries.
func readDirNames(dirname string) ([]string, error) {
	f, err := os.Open(dirname)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
