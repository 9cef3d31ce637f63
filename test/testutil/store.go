// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"reflect"
	"sync"
	"testing"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
)

// InmemoryStore is an in-memory store used for testing.
type inmemoryStore struct {
	mu       sync.Mutex
	payloads map[digest.Digest][]byte
}

// NewInmemoryStore returns a new store that keeps payloads
// in memory.
func NewInmemoryStore() pipeflow.Store {
	return &inmemoryStore{
		payloads: map[digest.Digest][]byte{},
	}
}

func (s *inmemoryStore) get(k digest.Digest) []byte {
	s.mu.Lock()
	b := s.payloads[k]
	s.mu.Unlock()
	return b
}

func (s *inmemoryStore) set(k digest.Digest, b []byte) {
	s.mu.Lock()
	s.payloads[k] = b
	s.mu.Unlock()
}

// Stat returns metadata for the payload named by id.
func (s *inmemoryStore) Stat(_ context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	b := s.get(id)
	if b == nil {
		return pipeflow.Attachment{}, errors.E("stat", id, errors.NotExist)
	}
	return pipeflow.Attachment{ID: id, Size: int64(len(b))}, nil
}

// Get returns the payload named by id.
func (s *inmemoryStore) Get(_ context.Context, id digest.Digest) (io.ReadCloser, error) {
	b := s.get(id)
	if b == nil {
		return nil, errors.E("get", id, errors.NotExist)
	}
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

// Put installs the payload rd and returns its signature.
func (s *inmemoryStore) Put(_ context.Context, rd io.Reader) (digest.Digest, error) {
	b, err := ioutil.ReadAll(rd)
	if err != nil {
		return digest.Digest{}, err
	}
	id := pipeflow.Digester.FromBytes(b)
	s.set(id, b)
	return id, nil
}

// Contains tells whether the store holds the payload named by id.
func (s *inmemoryStore) Contains(_ context.Context, id digest.Digest) (bool, error) {
	return s.get(id) != nil, nil
}

// Collect removes any payload not in the liveset.
func (s *inmemoryStore) Collect(_ context.Context, live pipeflow.Liveset) error {
	s.mu.Lock()
	for k := range s.payloads {
		if !live.Contains(k) {
			delete(s.payloads, k)
		}
	}
	s.mu.Unlock()
	return nil
}

// URL returns a nil URL.
func (s *inmemoryStore) URL() *url.URL {
	return nil
}

// CountingStore wraps a store and counts the calls made through it.
// It is used to verify caching behavior.
type CountingStore struct {
	pipeflow.Store

	mu    sync.Mutex
	gets  map[digest.Digest]int
	puts  int
	stats int
}

// NewCountingStore returns a new counting store backed by store.
func NewCountingStore(store pipeflow.Store) *CountingStore {
	return &CountingStore{Store: store, gets: map[digest.Digest]int{}}
}

// Get implements the store's Get call.
func (s *CountingStore) Get(ctx context.Context, id digest.Digest) (io.ReadCloser, error) {
	s.mu.Lock()
	s.gets[id]++
	s.mu.Unlock()
	return s.Store.Get(ctx, id)
}

// Put implements the store's Put call.
func (s *CountingStore) Put(ctx context.Context, r io.Reader) (digest.Digest, error) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Store.Put(ctx, r)
}

// Stat implements the store's Stat call.
func (s *CountingStore) Stat(ctx context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	s.mu.Lock()
	s.stats++
	s.mu.Unlock()
	return s.Store.Stat(ctx, id)
}

// Gets returns the number of Get calls made for id.
func (s *CountingStore) Gets(id digest.Digest) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[id]
}

// Puts returns the total number of Put calls made.
func (s *CountingStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// StoreCallT indicates the type of store call.
type StoreCallT int

// The concrete types of store calls.
const (
	CallGet StoreCallT = iota
	CallPut
)

// StoreCall describes a single call to a Store: its expected
// arguments, and a reply. Store calls are used with an ExpectStore.
type StoreCall struct {
	T            StoreCallT
	ArgID        digest.Digest
	ArgBytes     []byte
	ArgReadError error

	ReplyID         digest.Digest
	ReplyErr        error
	ReplyReadCloser io.ReadCloser
}

// ExpectStore is a Store implementation used for testing; it takes a
// script of expected calls and replies. Violations are reported to
// the testing.T instance.
type ExpectStore struct {
	*testing.T          // the testing instance to use
	StoreURL   *url.URL // the store URL
	calls      []StoreCall
}

// NewExpectStore creates a new testing store.
func NewExpectStore(t *testing.T, rawurl string) *ExpectStore {
	u, err := url.Parse(rawurl)
	if err != nil {
		t.Fatal(err)
	}
	return &ExpectStore{T: t, StoreURL: u}
}

// Expect adds a call to the store's script.
func (s *ExpectStore) Expect(call StoreCall) {
	s.calls = append(s.calls, call)
}

// Complete should be called when testing is finished; it verifies
// that the entire script has been exhausted.
func (s *ExpectStore) Complete() error {
	if n := len(s.calls); n != 0 {
		return fmt.Errorf("finished with %d calls remaining", n)
	}
	return nil
}

func (s *ExpectStore) call(c *StoreCall) error {
	if len(s.calls) == 0 {
		return fmt.Errorf("unexpected call %v", c)
	}
	expect := s.calls[0]
	s.calls = s.calls[1:]
	if got, want := c.T, expect.T; got != want {
		return fmt.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.ArgID, expect.ArgID; got != want {
		return fmt.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.ArgBytes, expect.ArgBytes; !reflect.DeepEqual(got, want) {
		return fmt.Errorf("got %v, want %v", got, want)
	}
	*c = expect
	return nil
}

// Stat always returns a NotExist error.
func (s *ExpectStore) Stat(_ context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	return pipeflow.Attachment{}, errors.E("stat", id, errors.NotExist)
}

// Get implements the store's Get call.
func (s *ExpectStore) Get(_ context.Context, id digest.Digest) (io.ReadCloser, error) {
	call := StoreCall{T: CallGet, ArgID: id}
	if err := s.call(&call); err != nil {
		return nil, err
	}
	return call.ReplyReadCloser, call.ReplyErr
}

// Put implements the store's Put call.
func (s *ExpectStore) Put(_ context.Context, body io.Reader) (digest.Digest, error) {
	call := StoreCall{T: CallPut}
	call.ArgBytes, call.ArgReadError = ioutil.ReadAll(body)
	if err := s.call(&call); err != nil {
		return digest.Digest{}, err
	}
	return call.ReplyID, call.ReplyErr
}

// Contains is not supported for the expect store.
func (s *ExpectStore) Contains(context.Context, digest.Digest) (bool, error) {
	return false, errors.E("contains", errors.NotSupported)
}

// Collect is not supported for the expect store.
func (*ExpectStore) Collect(context.Context, pipeflow.Liveset) error {
	return errors.E("collect", errors.NotSupported)
}

// URL returns the store's URL.
func (s *ExpectStore) URL() *url.URL { return s.StoreURL }

// panicStore is an unimplemented Store.
type panicStore struct{}

func (*panicStore) Stat(context.Context, digest.Digest) (pipeflow.Attachment, error) {
	panic("not implemented")
}
func (*panicStore) Get(context.Context, digest.Digest) (io.ReadCloser, error) {
	panic("not implemented")
}
func (*panicStore) Put(context.Context, io.Reader) (digest.Digest, error) {
	panic("not implemented")
}
func (*panicStore) Contains(context.Context, digest.Digest) (bool, error) {
	panic("not implemented")
}
func (*panicStore) Collect(context.Context, pipeflow.Liveset) error {
	panic("not implemented")
}
func (*panicStore) URL() *url.URL { panic("not implemented") }

// PanicStore is an unimplemented store. It panics on each call.
var PanicStore pipeflow.Store = &panicStore{}
