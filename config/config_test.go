// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"reflect"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/cache"
	"github.com/grailbio/pipeflow/flow"
	"github.com/grailbio/pipeflow/test/testutil"
)

type testStore struct {
	Config
	arg string
}

func (c *testStore) Store() (pipeflow.Store, error) {
	return nil, errors.New(c.arg)
}

func TestConfig(t *testing.T) {
	Register(Store, "test", "test", "", func(cfg Config, arg string) (Config, error) {
		return &testStore{cfg, arg}, nil
	})

	cfg, err := Parse([]byte(`
store: test,arg1
`))
	if err != nil {
		t.Fatal(err)
	}
	store, err := cfg.Store()
	if store != nil {
		t.Errorf("expected nil store, got %v", store)
	}
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if got, want := err.Error(), "arg1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	b, err := Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg1, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, cfg1) {
		t.Error("cfg, cfg1 not equal after marshal roundtrip")
	}

	if _, err = Parse([]byte("store: nosuch\n")); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestValues(t *testing.T) {
	cfg, err := Parse([]byte(`
gateway: http://models.example.com:9000
limit: 64
inlinemax: 65536
`))
	if err != nil {
		t.Fatal(err)
	}
	gateway, err := cfg.Gateway()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := gateway, "http://models.example.com:9000"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	limit, err := cfg.Limit()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := limit, 64; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	max, err := cfg.InlineMax()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := max, int64(65536); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	cfg, err = Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	gateway, err = cfg.Gateway()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := gateway, flow.DefaultGateway; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if limit, _ = cfg.Limit(); limit != 0 {
		t.Errorf("got %v, want 0", limit)
	}
	if max, _ = cfg.InlineMax(); max != 0 {
		t.Errorf("got %v, want 0", max)
	}

	cfg, err = Parse([]byte("limit: banana\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = cfg.Limit(); err == nil {
		t.Error("expected error for invalid limit")
	}
}

type inmemory struct {
	Config
}

func (c *inmemory) Store() (pipeflow.Store, error) {
	return testutil.NewInmemoryStore(), nil
}

func TestCache(t *testing.T) {
	Register(Store, "inmemory", "", "", func(cfg Config, arg string) (Config, error) {
		return &inmemory{cfg}, nil
	})

	cfg, err := Parse([]byte(`
store: inmemory
cache: lru,1024
`))
	if err != nil {
		t.Fatal(err)
	}
	store, err := cfg.Store()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*cache.Store); !ok {
		t.Errorf("got %T, want *cache.Store", store)
	}

	cfg, err = Parse([]byte("cache: lru,1024\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err = cfg.Store(); err == nil {
		t.Error("expected error for cache without store")
	}

	if _, err = Parse([]byte("cache: lru,banana\n")); err == nil {
		t.Error("expected error for invalid capacity")
	}
}

type counted struct {
	Config
	n *int
}

func (c *counted) Store() (pipeflow.Store, error) {
	*c.n++
	return testutil.NewInmemoryStore(), nil
}

func TestOnce(t *testing.T) {
	var n int
	Register(Store, "counted", "", "", func(cfg Config, arg string) (Config, error) {
		return &counted{cfg, &n}, nil
	})

	cfg, err := Parse([]byte("store: counted\n"))
	if err != nil {
		t.Fatal(err)
	}
	once := Once(cfg)
	s1, err := once.Store()
	if err != nil {
		t.Fatal(err)
	}
	s2, err := once.Store()
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("store minted twice")
	}
	if got, want := n, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
