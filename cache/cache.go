// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cache implements an in-memory, byte-bounded LRU cache in
// front of an attachment store. Payloads retrieved from or written
// through the cache are retained until evicted to make room for
// newer ones. Entries may be pinned while their payloads are in
// flight; pinned entries are never evicted.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"io"
	"io/ioutil"
	"net/url"
	"sync"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/log"
	"golang.org/x/sync/singleflight"
)

// Store is a caching Store. It serves Get requests from memory when
// possible, falling back to the backing store on misses. Concurrent
// misses for the same object are deduplicated so that the backing
// store sees at most one Get per object at a time. Puts are written
// through.
type Store struct {
	backing pipeflow.Store
	max     int64
	log     *log.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[digest.Digest]*entry
	lru     *list.List
	used    int64

	hits, misses, evictions int64
}

type entry struct {
	id   digest.Digest
	p    []byte
	pins int
	elem *list.Element
}

// New creates a new cache in front of the backing store, retaining
// at most max bytes of payload.
func New(backing pipeflow.Store, max int64, log *log.Logger) *Store {
	return &Store{
		backing: backing,
		max:     max,
		log:     log,
		entries: make(map[digest.Digest]*entry),
		lru:     list.New(),
	}
}

// Get retrieves the object named by a digest, from memory when the
// cache holds it.
func (s *Store) Get(ctx context.Context, id digest.Digest) (io.ReadCloser, error) {
	if p, ok := s.lookup(id); ok {
		s.count(&s.hits)
		return ioutil.NopCloser(bytes.NewReader(p)), nil
	}
	s.count(&s.misses)
	v, err, _ := s.group.Do(id.String(), func() (interface{}, error) {
		if p, ok := s.lookup(id); ok {
			return p, nil
		}
		rc, err := s.backing.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		p, err := ioutil.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		s.install(id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return ioutil.NopCloser(bytes.NewReader(v.([]byte))), nil
}

// Put writes the object in body through to the backing store and
// retains its payload in the cache. Its digest identity is returned.
func (s *Store) Put(ctx context.Context, body io.Reader) (digest.Digest, error) {
	p, err := ioutil.ReadAll(body)
	if err != nil {
		return digest.Digest{}, err
	}
	id, err := s.backing.Put(ctx, bytes.NewReader(p))
	if err != nil {
		return digest.Digest{}, err
	}
	s.install(id, p)
	return id, nil
}

// Stat retrieves metadata for the object named by a digest.
func (s *Store) Stat(ctx context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	if p, ok := s.peek(id); ok {
		return pipeflow.Attachment{ID: id, Size: int64(len(p))}, nil
	}
	return s.backing.Stat(ctx, id)
}

// Contains tells whether the cache or its backing store has an
// object with a digest.
func (s *Store) Contains(ctx context.Context, id digest.Digest) (bool, error) {
	if _, ok := s.peek(id); ok {
		return true, nil
	}
	return s.backing.Contains(ctx, id)
}

// Collect drops any unpinned cached objects that are not in the live
// set, then collects the backing store.
func (s *Store) Collect(ctx context.Context, live pipeflow.Liveset) error {
	s.mu.Lock()
	for _, e := range s.entries {
		if live != nil && live.Contains(e.id) || e.pins > 0 {
			continue
		}
		s.remove(e)
	}
	s.mu.Unlock()
	return s.backing.Collect(ctx, live)
}

// URL returns the URL of the backing store.
func (s *Store) URL() *url.URL {
	return s.backing.URL()
}

// Pin marks the object named by id as in flight, protecting it from
// eviction until a matching Unpin. Pin reports whether the object
// was cached; pinning an uncached object has no effect.
func (s *Store) Pin(id digest.Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.pins++
	return true
}

// Unpin releases a pin taken by Pin. When an object's last pin is
// released, it becomes evictable again.
func (s *Store) Unpin(id digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.pins == 0 {
		return
	}
	if e.pins--; e.pins == 0 && s.used > s.max {
		s.evict()
	}
}

// Stats summarizes cache state and activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Bytes     int64
	MaxBytes  int64
	Entries   int
}

// Stats returns a snapshot of the cache's statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Bytes:     s.used,
		MaxBytes:  s.max,
		Entries:   len(s.entries),
	}
}

// lookup returns the cached payload for id, promoting its entry to
// most recently used.
func (s *Store) lookup(id digest.Digest) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(e.elem)
	return e.p, true
}

// peek is like lookup but does not affect LRU order.
func (s *Store) peek(id digest.Digest) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.p, true
}

func (s *Store) count(c *int64) {
	s.mu.Lock()
	*c++
	s.mu.Unlock()
}

// install retains the payload p under id. Payloads larger than the
// whole cache budget are not retained at all.
func (s *Store) install(id digest.Digest, p []byte) {
	if int64(len(p)) > s.max {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.lru.MoveToFront(e.elem)
		return
	}
	e := &entry{id: id, p: p}
	e.elem = s.lru.PushFront(e)
	s.entries[id] = e
	s.used += int64(len(p))
	s.evict()
}

// evict drops unpinned entries in LRU order until the cache is
// within budget. Pinned entries are skipped, so the cache may exceed
// its budget while many payloads are in flight.
func (s *Store) evict() {
	elem := s.lru.Back()
	for s.used > s.max && elem != nil {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.pins == 0 {
			s.remove(e)
			s.evictions++
			s.log.Debugf("cache: evicted %v (%s)", e.id.Short(), data.Size(len(e.p)))
		}
		elem = prev
	}
}

func (s *Store) remove(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.entries, e.id)
	s.used -= int64(len(e.p))
}
