// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/cache"
	"github.com/grailbio/pipeflow/dispatch/server"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/flow"
	"github.com/grailbio/pipeflow/rest"
	"github.com/grailbio/pipeflow/test/testutil"
)

func register(t *testing.T, x *pipeflow.Executor, endpoint string, h pipeflow.Handler) {
	t.Helper()
	if err := x.Register(endpoint, h); err != nil {
		t.Fatal(err)
	}
}

func newEval(t *testing.T, g *flow.Graph, config flow.EvalConfig) *flow.Eval {
	t.Helper()
	e, err := flow.NewEval(g, config)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEcho(t *testing.T) {
	x := executor(t, "echo", "id")
	g := newGraph(t, flow.Config{})
	add(t, g, x, "id")
	e := newEval(t, g, flow.EvalConfig{})
	ctx := context.Background()
	out, err := e.Do(ctx, pipeflow.RecordSet{pipeflow.Text("Aa")})
	if err != nil {
		t.Fatal(err)
	}
	if want := (pipeflow.RecordSet{pipeflow.Text("Aa")}); !out.Equal(want) {
		t.Errorf("got %v, want %v", out, want)
	}
	out, err = e.Do(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.N(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	stats := e.Stats()
	if got, want := stats.Evals, 2; got != want {
		t.Errorf("got %v evals, want %v", got, want)
	}
	if got, want := stats.Calls, 2; got != want {
		t.Errorf("got %v calls, want %v", got, want)
	}
	if got, want := stats.Errors, 0; got != want {
		t.Errorf("got %v errors, want %v", got, want)
	}
}

// TestEntryInput verifies that every entry node receives the whole
// posted record set.
func TestEntryInput(t *testing.T) {
	m := executor(t, "m", "a", "b")
	g := newGraph(t, flow.Config{})
	add(t, g, m, "a")
	add(t, g, m, "b")
	e := newEval(t, g, flow.EvalConfig{})
	out, err := e.Do(context.Background(), pipeflow.RecordSet{pipeflow.Text("Aa")})
	if err != nil {
		t.Fatal(err)
	}
	want := pipeflow.RecordSet{pipeflow.Text("Aa"), pipeflow.Text("Aa")}
	if !out.Equal(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

// TestJoinOrder verifies that a join sees its inputs in declaration
// order even when they complete in reverse.
func TestJoinOrder(t *testing.T) {
	m := pipeflow.NewExecutor("m")
	for _, src := range []struct {
		endpoint string
		delay    time.Duration
	}{
		{"one", 150 * time.Millisecond},
		{"two", 75 * time.Millisecond},
		{"three", 0},
	} {
		src := src
		register(t, m, src.endpoint, func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
			time.Sleep(src.delay)
			return pipeflow.RecordSet{pipeflow.Text(src.endpoint)}, nil
		})
	}
	register(t, m, "join", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		return rs, nil
	})
	g := newGraph(t, flow.Config{})
	add(t, g, m, "one")
	add(t, g, m, "two")
	add(t, g, m, "three")
	add(t, g, m, "join", "m/one", "m/two", "m/three")
	e := newEval(t, g, flow.EvalConfig{})
	out, err := e.Do(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := pipeflow.RecordSet{pipeflow.Text("one"), pipeflow.Text("two"), pipeflow.Text("three")}
	if !out.Equal(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestNodeError(t *testing.T) {
	m := pipeflow.NewExecutor("m")
	register(t, m, "boom", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		return nil, errors.New("kaboom")
	})
	var canceled bool
	register(t, m, "slow", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		select {
		case <-time.After(30 * time.Second):
		case <-ctx.Done():
			canceled = true
		}
		return nil, ctx.Err()
	})
	g := newGraph(t, flow.Config{})
	add(t, g, m, "boom")
	add(t, g, m, "slow")
	e := newEval(t, g, flow.EvalConfig{})
	begin := time.Now()
	out, err := e.Do(context.Background(), pipeflow.RecordSet{pipeflow.Text("Aa")})
	if out != nil {
		t.Errorf("got %v, want no output", out)
	}
	ne, ok := err.(*flow.NodeError)
	if !ok {
		t.Fatalf("got %T (%v), want *flow.NodeError", err, err)
	}
	if got, want := ne.Node, "m/boom"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !strings.Contains(ne.Err.Error(), "kaboom") {
		t.Errorf("error %v does not name its cause", ne.Err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("failure did not cancel the layer (took %s)", elapsed)
	}
	if !canceled {
		t.Error("in-flight call was not canceled")
	}
	if got := e.Stats().Errors; got == 0 {
		t.Error("failed call not counted")
	}
}

// TestTransportError verifies that a dispatch failure on a remote
// node surfaces as that node's failure.
func TestTransportError(t *testing.T) {
	x := executor(t, "captioner", "caption")
	srv := httptest.NewServer(rest.Handler(server.Node{Executor: x}, nil))
	target := srv.URL + "/captioner/caption"
	srv.Close()

	g := newGraph(t, flow.Config{})
	if _, err := g.AddRemote(target); err != nil {
		t.Fatal(err)
	}
	e := newEval(t, g, flow.EvalConfig{})
	out, err := e.Do(context.Background(), pipeflow.RecordSet{pipeflow.Text("Aa")})
	if out != nil {
		t.Errorf("got %v, want no output", out)
	}
	ne, ok := err.(*flow.NodeError)
	if !ok {
		t.Fatalf("got %T (%v), want *flow.NodeError", err, err)
	}
	if got, want := ne.Node, target; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !errors.Is(errors.Unreachable, ne.Err) {
		t.Errorf("got %v, want Unreachable", ne.Err)
	}
}

func TestCallTimeout(t *testing.T) {
	m := pipeflow.NewExecutor("m")
	register(t, m, "sleep", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		select {
		case <-time.After(30 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	g := newGraph(t, flow.Config{})
	add(t, g, m, "sleep")
	e := newEval(t, g, flow.EvalConfig{CallTimeout: 50 * time.Millisecond})
	_, err := e.Do(context.Background(), nil)
	ne, ok := err.(*flow.NodeError)
	if !ok {
		t.Fatalf("got %T (%v), want *flow.NodeError", err, err)
	}
	if !errors.Is(errors.Timeout, ne.Err) {
		t.Errorf("got %v, want Timeout", ne.Err)
	}
}

// TestRemoteEval evaluates a graph mixing a dialed remote node with
// a local one.
func TestRemoteEval(t *testing.T) {
	captioner := pipeflow.NewExecutor("captioner")
	register(t, captioner, "upper", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		out := make(pipeflow.RecordSet, 0, rs.N())
		for _, r := range rs {
			out = append(out, pipeflow.Text(strings.ToUpper(string(r.Value))))
		}
		return out, nil
	})
	srv := httptest.NewServer(rest.Handler(server.Node{Executor: captioner}, nil))
	defer srv.Close()

	m := pipeflow.NewExecutor("m")
	register(t, m, "exclaim", func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		out := append(pipeflow.RecordSet{}, rs...)
		return append(out, pipeflow.Text("!")), nil
	})
	g := newGraph(t, flow.Config{})
	rid, err := g.AddRemote(srv.URL + "/captioner/upper")
	if err != nil {
		t.Fatal(err)
	}
	add(t, g, m, "exclaim", rid)
	e := newEval(t, g, flow.EvalConfig{})
	out, err := e.Do(context.Background(), pipeflow.RecordSet{pipeflow.Text("aa")})
	if err != nil {
		t.Fatal(err)
	}
	want := pipeflow.RecordSet{pipeflow.Text("AA"), pipeflow.Text("!")}
	if !out.Equal(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

// TestSharedCache verifies that two nodes consuming the same
// offloaded payload drive a single get against the backing store.
func TestSharedCache(t *testing.T) {
	backing := testutil.NewCountingStore(testutil.NewInmemoryStore())
	store := cache.New(backing, 1<<20, nil)
	ctx := context.Background()
	payload := []byte("attachment payload")
	id, err := backing.Put(ctx, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}

	m := executor(t, "m", "a", "b")
	g := newGraph(t, flow.Config{})
	add(t, g, m, "a")
	add(t, g, m, "b")
	e := newEval(t, g, flow.EvalConfig{Store: store})
	out, err := e.Do(ctx, pipeflow.RecordSet{{Kind: pipeflow.KindText, ID: id}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := backing.Gets(id), 1; got != want {
		t.Errorf("got %v backing gets, want %v", got, want)
	}
	if got, want := out.N(), 2; got != want {
		t.Fatalf("got %v records, want %v", got, want)
	}
	for i, r := range out {
		if !bytes.Equal(r.Value, payload) {
			t.Errorf("record %d: got %q, want %q", i, r.Value, payload)
		}
	}
	if got, want := store.Stats().Entries, 1; got != want {
		t.Errorf("got %v cached entries, want %v", got, want)
	}
}
