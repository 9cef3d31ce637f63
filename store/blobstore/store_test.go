// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blobstore

import (
	"bytes"
	"context"
	"io/ioutil"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/testutil/s3test"
)

const bucket = "test"

func TestStore(t *testing.T) {
	ctx := context.Background()
	client := s3test.NewClient(t, bucket)
	s := &Store{Client: client, Bucket: bucket}
	const content = "hello, world"
	id, err := s.Put(ctx, bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, pipeflow.Digester.FromString(content); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := client.GetApiCount("DeleteObject"), 1; got != want {
		t.Errorf("got %v uploads deleted, want %v", got, want)
	}
	att, err := s.Stat(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := att, (pipeflow.Attachment{ID: id, Size: int64(len(content))}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	rc, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), content; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if ok, err := s.Contains(ctx, id); err != nil || !ok {
		t.Errorf("expected store to contain %v: %v, %v", id, ok, err)
	}
}

func TestStoreNotExist(t *testing.T) {
	ctx := context.Background()
	client := s3test.NewClient(t, bucket)
	s := &Store{Client: client, Bucket: bucket}
	id := pipeflow.Digester.FromString("missing")
	if _, err := s.Stat(ctx, id); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	if ok, err := s.Contains(ctx, id); err != nil || ok {
		t.Errorf("expected missing: %v, %v", ok, err)
	}
}
