// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/flow"
)

func executor(t *testing.T, name string, endpoints ...string) *pipeflow.Executor {
	t.Helper()
	x := pipeflow.NewExecutor(name)
	for _, endpoint := range endpoints {
		err := x.Register(endpoint, func(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
			return rs, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return x
}

func newGraph(t *testing.T, config flow.Config) *flow.Graph {
	t.Helper()
	g, err := flow.NewGraph(config)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func add(t *testing.T, g *flow.Graph, x *pipeflow.Executor, endpoint string, needs ...string) string {
	t.Helper()
	id, err := g.Add(x, endpoint, needs...)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func ids(nodes []*flow.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func TestAdd(t *testing.T) {
	g := newGraph(t, flow.Config{})
	x := executor(t, "speech", "stt", "tts")
	id := add(t, g, x, "stt")
	if got, want := id, "speech/stt"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := g.Add(x, "stt"); !errors.Is(errors.Exists, err) {
		t.Errorf("got %v, want Exists", err)
	}
	if _, err := g.Add(x, "ocr"); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
	if got, want := g.N(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if g.Lookup("speech/stt") == nil {
		t.Error("node not found")
	}
}

func TestCycle(t *testing.T) {
	g := newGraph(t, flow.Config{})
	a := executor(t, "a", "f")
	b := executor(t, "b", "f")
	c := executor(t, "c", "f")
	// A forward reference is fine until the referenced node closes
	// the loop.
	add(t, g, a, "f", "b/f")
	if _, err := g.Add(b, "f", "a/f"); !errors.Is(errors.Cycle, err) {
		t.Errorf("got %v, want Cycle", err)
	}
	if _, err := g.Add(c, "f", "c/f"); !errors.Is(errors.Cycle, err) {
		t.Errorf("got %v, want Cycle", err)
	}
	// Refused additions leave no residue.
	if got, want := g.N(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if g.Lookup("b/f") != nil {
		t.Error("refused node was added")
	}
}

func TestValidate(t *testing.T) {
	g := newGraph(t, flow.Config{})
	a := executor(t, "a", "f")
	add(t, g, a, "f", "ghost/f")
	if err := g.Validate(); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
	if _, err := g.Layers(); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
	ghost := executor(t, "ghost", "f")
	add(t, g, ghost, "f")
	if err := g.Validate(); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestLayers(t *testing.T) {
	g := newGraph(t, flow.Config{})
	m := executor(t, "m", "a", "b", "c", "d", "e")
	add(t, g, m, "a")
	add(t, g, m, "c", "m/a")
	add(t, g, m, "b", "m/a")
	add(t, g, m, "d", "m/b", "m/c")
	add(t, g, m, "e")
	want := [][]string{
		{"m/a", "m/e"},
		{"m/c", "m/b"},
		{"m/d"},
	}
	for i := 0; i < 3; i++ {
		layers, err := g.Layers()
		if err != nil {
			t.Fatal(err)
		}
		got := make([][]string, len(layers))
		for j, layer := range layers {
			got[j] = ids(layer)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got, want := ids(g.Entries()), []string{"m/a", "m/e"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := ids(g.Terminals()), []string{"m/d", "m/e"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	g := newGraph(t, flow.Config{})
	a := executor(t, "a", "f")
	b := executor(t, "b", "f")
	add(t, g, a, "f")
	add(t, g, b, "f", "a/f")
	if err := g.Remove("a/f"); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
	if err := g.Remove("ghost/f"); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
	if err := g.Remove("b/f"); err != nil {
		t.Fatal(err)
	}
	if err := g.Remove("a/f"); err != nil {
		t.Fatal(err)
	}
	if got, want := g.N(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Removed IDs may be reused.
	add(t, g, a, "f")
	if got, want := g.N(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLayersEmpty(t *testing.T) {
	g := newGraph(t, flow.Config{})
	layers, err := g.Layers()
	if err != nil {
		t.Fatal(err)
	}
	if layers != nil {
		t.Errorf("got %v, want nil", layers)
	}
}

func TestRemote(t *testing.T) {
	g := newGraph(t, flow.Config{Gateway: "http://models.example.com:9000"})
	id, err := g.AddRemote("transcoder/caption")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, "transcoder/caption"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	n := g.Lookup(id)
	if got, want := n.Addr.String(), "http://models.example.com:9000/transcoder/caption"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := n.Endpoint, "caption"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	id, err = g.AddRemote("http://other.example.com:8080/ocr/read")
	if err != nil {
		t.Fatal(err)
	}
	n = g.Lookup(id)
	if got, want := n.Addr.String(), "http://other.example.com:8080/ocr/read"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := n.Endpoint, "read"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, err := g.AddRemote("caption"); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
	if _, err := g.AddRemote("mailto:ops@example.com"); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
}

func TestDefaultGateway(t *testing.T) {
	g := newGraph(t, flow.Config{})
	id, err := g.AddRemote("transcoder/caption")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := g.Lookup(id).Addr.String(), "http://localhost:8080/transcoder/caption"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
