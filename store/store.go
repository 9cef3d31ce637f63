// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store provides common ways to dial pipeflow.Store
// implementations; it also provides some common utilities for
// working with stores.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/log"
)

var (
	mu       sync.Mutex
	diallers = map[string]func(*url.URL) (pipeflow.Store, error){}
	retrier  = retry.MaxTries(retry.Backoff(20*time.Millisecond, 100*time.Millisecond, 1.5), 3)
)

// RegisterScheme associates a dialler with a URL scheme.
func RegisterScheme(scheme string, dial func(*url.URL) (pipeflow.Store, error)) {
	mu.Lock()
	diallers[scheme] = dial
	mu.Unlock()
}

// UnregisterScheme is used for testing.
func UnregisterScheme(scheme string) {
	mu.Lock()
	delete(diallers, scheme)
	mu.Unlock()
}

// Dial attempts to connect to the store named by the given URL.
// The URL's scheme must be registered with RegisterScheme.
func Dial(rawurl string) (pipeflow.Store, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	dial := diallers[u.Scheme]
	mu.Unlock()
	if dial == nil {
		return nil, errors.E("dial", rawurl, errors.NotSupported, errors.Errorf("unknown scheme %q", u.Scheme))
	}
	return dial(u)
}

// Transfer copies the attachment named by id from the src store to
// the dst store, retrying on transient errors.
func Transfer(ctx context.Context, dst, src pipeflow.Store, id digest.Digest) (err error) {
	for retries := 0; ; retries++ {
		if err = transfer(ctx, dst, src, id); !retryTransfer(err) {
			break
		}
		log.Printf("transfer %v from %s -> %s: %v", id, storeName(src), storeName(dst), err)
		if rerr := retry.Wait(ctx, retrier, retries); rerr != nil {
			break
		}
	}
	return
}

// retryTransfer returns whether the given error is retryable in the
// context of a transfer.
func retryTransfer(err error) bool {
	if err == nil {
		return false
	}
	if errors.Transient(err) {
		return true
	}
	if errors.Is(errors.Integrity, err) {
		return true
	}
	return false
}

func storeName(s pipeflow.Store) string {
	if u := s.URL(); u != nil {
		return fmt.Sprintf("%v", u)
	}
	return fmt.Sprintf("%T", s)
}

func transfer(ctx context.Context, dst, src pipeflow.Store, id digest.Digest) error {
	if ok, err := dst.Contains(ctx, id); err == nil && ok {
		return nil
	}
	rc, err := src.Get(ctx, id)
	if err != nil {
		return err
	}
	defer rc.Close()
	dgst, err := dst.Put(ctx, rc)
	if err != nil {
		return err
	}
	if dgst != id {
		return errors.E("transfer", id, errors.Integrity, errors.Errorf("wrong digest %s", dgst))
	}
	return nil
}

// Marshal marshals the value v and stores it in the provided store.
// The digest of the marshaled content is returned. Record sets are
// written in their wire encoding; other values use Go's JSON encoder.
func Marshal(ctx context.Context, s pipeflow.Store, v interface{}) (digest.Digest, error) {
	r, w := io.Pipe()
	bw := bufio.NewWriter(w)
	go func() {
		var err error
		if rs, ok := v.(*pipeflow.RecordSet); ok {
			err = rs.Write(bw, pipeflow.FmtJSON)
			if err == nil {
				err = bw.Flush()
			}
		} else {
			e := json.NewEncoder(w)
			err = e.Encode(v)
		}
		_ = w.CloseWithError(err)
	}()
	return s.Put(ctx, r)
}

// Unmarshal unmarshals the value named by digest k into v.
// If the value does not exist in the store, an error is returned.
func Unmarshal(ctx context.Context, s pipeflow.Store, k digest.Digest, v interface{}) error {
	rc, err := s.Get(ctx, k)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if rs, ok := v.(*pipeflow.RecordSet); ok {
		return rs.Read(rc, pipeflow.FmtJSON)
	}
	return json.NewDecoder(rc).Decode(v)
}
