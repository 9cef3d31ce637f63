// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package filestore implements a filesystem-backed attachment store.
// It stores objects in a directory on disk; the objects are named by
// the string representation of their digest, i.e., of the form
// sha256:d60e67ce9....
package filestore

import (
	"context"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"syscall"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/log"
)

// Store implements a filesystem-backed Store.
type Store struct {
	// The root directory for this store. This directory contains
	// all objects.
	Root string

	Log *log.Logger

	// StoreURL may be set to a URL that represents this store.
	StoreURL *url.URL
}

// Path returns the filesystem directory and full path of the object with a given digest.
func (s *Store) Path(id digest.Digest) (dir, path string) {
	dir = filepath.Join(s.Root, id.Hex()[:2])
	return dir, filepath.Join(dir, id.Hex()[2:])
}

// Install links the given file into the store, named by digest.
func (s *Store) Install(file string) (pipeflow.Attachment, error) {
	f, err := os.Open(file)
	if err != nil {
		return pipeflow.Attachment{}, err
	}
	defer f.Close()
	w := pipeflow.Digester.NewWriter()
	n, err := io.Copy(w, f)
	if err != nil {
		return pipeflow.Attachment{}, err
	}
	d := w.Digest()
	return pipeflow.Attachment{ID: d, Size: n}, s.InstallDigest(d, file)
}

// InstallDigest installs a file at the given digest. The caller guarantees
// that the file's bytes have the digest d.
func (s *Store) InstallDigest(d digest.Digest, file string) error {
	file, err := filepath.EvalSymlinks(file)
	if err != nil {
		return err
	}
	dir, path := s.Path(d)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	err = os.Link(file, path)
	if os.IsExist(err) {
		err = nil
	}
	if err != nil {
		// Copy if file was reported to be on a different device.
		if linkErr, ok := err.(*os.LinkError); ok && linkErr.Err == syscall.EXDEV {
			f, ferr := os.Open(file)
			if ferr != nil {
				return ferr
			}
			_, err = s.Put(context.Background(), f)
		}
	}
	return err
}

// Stat retrieves metadata for objects stored in the store.
func (s *Store) Stat(ctx context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	_, path := s.Path(id)
	info, err := os.Stat(path)
	if err != nil {
		return pipeflow.Attachment{}, errors.E("stat", s.Root, id, err)
	}
	return pipeflow.Attachment{ID: id, Size: info.Size()}, nil
}

// Get retrieves the object named by a digest.
func (s *Store) Get(ctx context.Context, id digest.Digest) (io.ReadCloser, error) {
	_, path := s.Path(id)
	rc, err := os.Open(path)
	if err != nil {
		return nil, errors.E("get", s.Root, id, err)
	}
	return rc, nil
}

// Contains tells whether the store has an object with a digest.
func (s *Store) Contains(ctx context.Context, id digest.Digest) (bool, error) {
	_, path := s.Path(id)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Put installs an object into the store. Its digest identity is returned.
func (s *Store) Put(ctx context.Context, body io.Reader) (digest.Digest, error) {
	temp, err := s.TempFile("create-")
	if err != nil {
		return digest.Digest{}, err
	}
	defer os.Remove(temp.Name())
	dw := pipeflow.Digester.NewWriter()
	done := make(chan error, 1)
	// This is a workaround to make sure that copies respect
	// context cancellations. Note that the underlying copy is
	// not actually cancelled, so this could lead to goroutine
	// leaks.
	go func() {
		_, err = io.Copy(temp, io.TeeReader(body, dw))
		temp.Close()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return digest.Digest{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return digest.Digest{}, err
		}
		dgst := dw.Digest()
		return dgst, s.InstallDigest(dgst, temp.Name())
	}
}

// URL returns the url of this store.
func (s *Store) URL() *url.URL {
	return s.StoreURL
}

// Vacuum moves all objects from the given store to this one.
func (s *Store) Vacuum(ctx context.Context, store *Store) error {
	var w walker
	w.Init(store)
	for w.Scan() {
		if err := s.InstallDigest(w.Digest(), w.Path()); err != nil {
			return err
		}
	}
	store.Collect(ctx, nil) // ignore errors
	return w.Err()
}

// Collect removes any objects in the store that are not also in
// the live set.
func (s *Store) Collect(ctx context.Context, live pipeflow.Liveset) error {
	var w walker
	w.Init(s)
	var (
		n    int
		size int64
	)
	for w.Scan() {
		if live != nil && live.Contains(w.Digest()) {
			continue
		}
		size += w.Info().Size()
		if err := os.Remove(w.Path()); err != nil {
			s.Log.Errorf("remove %q: %v", w.Path(), err)
		}
		// Clean up object subdirectories. (Ignores failure when nonempty.)
		os.Remove(filepath.Dir(w.Path()))
		n++
	}
	if live != nil {
		s.Log.Printf("collected %v objects (%s)", n, data.Size(size))
	}
	return w.Err()
}

// TempFile creates and returns a new temporary file adjacent to the
// store. Files created by TempFile can be efficiently ingested by
// Store.Install. The caller is responsible for cleaning up temporary
// files.
func (s *Store) TempFile(prefix string) (*os.File, error) {
	dir := filepath.Join(s.Root, "tmp")
	os.MkdirAll(dir, 0777)
	return ioutil.TempFile(dir, prefix)
}
