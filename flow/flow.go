// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package flow implements pipeline graphs over executors. A Graph
// names a set of executor endpoints together with the data
// dependencies between them; an Eval dispatches record sets through
// the graph layer by layer, joining each node's inputs in
// declaration order and concatenating the terminal outputs.
//
// Nodes are either executor nodes, calling an endpoint hosted by (or
// standing in for) a pipeflow.Executor, or remote nodes, dialed
// through a dispatch address. Remote targets without a host are
// resolved against the graph's gateway.
package flow

import (
	"net/url"
	"strings"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
)

// DefaultGateway is the dispatch gateway against which relative
// remote targets are resolved when the graph does not configure one.
const DefaultGateway = "http://localhost:8080"

// Config configures graph assembly.
type Config struct {
	// Gateway is the base URL against which remote targets without a
	// host are resolved. It defaults to DefaultGateway.
	Gateway string
}

// A Node is a single vertex in a Graph: an executor endpoint,
// together with the nodes whose outputs feed it.
type Node struct {
	// ID is the node's identifier, unique within its graph. Executor
	// nodes are identified by executorname/endpoint; remote nodes by
	// the target with which they were added.
	ID string
	// Executor hosts (or, for remote-client executors, stands in
	// for) this node's endpoint. It is nil for remote nodes.
	Executor *pipeflow.Executor
	// Endpoint names the endpoint to which this node's input is
	// dispatched.
	Endpoint string
	// Addr is the fully resolved dispatch address of a remote node.
	// It is nil for executor nodes.
	Addr *url.URL
	// Needs lists the IDs of the nodes whose outputs are joined, in
	// this order, into this node's input. A node without needs is an
	// entry point and receives the posted input instead.
	Needs []string
}

// A Graph is a set of nodes and their dependencies. Nodes are added
// one at a time; a dependency may name a node that has not yet been
// added, and such forward references are checked by Validate. Adding
// a node that would close a dependency cycle is refused immediately.
//
// A Graph is not safe for concurrent mutation.
type Graph struct {
	config  Config
	gateway *url.URL
	nodes   map[string]*Node
	order   []*Node
}

// NewGraph returns a new, empty graph with the given configuration.
func NewGraph(config Config) (*Graph, error) {
	if config.Gateway == "" {
		config.Gateway = DefaultGateway
	}
	u, err := url.Parse(config.Gateway)
	if err != nil {
		return nil, errors.E("flow.NewGraph", config.Gateway, errors.Invalid, err)
	}
	if u.Host == "" {
		return nil, errors.E("flow.NewGraph", config.Gateway, errors.Invalid, errors.New("gateway has no host"))
	}
	return &Graph{config: config, gateway: u, nodes: make(map[string]*Node)}, nil
}

// Add adds the named endpoint of executor x to the graph and returns
// the new node's ID, executorname/endpoint. The endpoint must be
// bound on local executors; remote-client executors are taken at
// their word, since their endpoints resolve only at their remote.
// Needs name the nodes whose outputs feed this one, in join order.
func (g *Graph) Add(x *pipeflow.Executor, endpoint string, needs ...string) (string, error) {
	if !x.Remote() {
		if _, err := x.Resolve(endpoint); err != nil {
			return "", err
		}
	}
	id := x.Name() + "/" + endpoint
	n := &Node{ID: id, Executor: x, Endpoint: endpoint, Needs: needs}
	return id, g.add(n)
}

// AddRemote adds a remote dispatch target to the graph and returns
// the new node's ID, which is the target as given. The target must
// name an executor and an endpoint, of which the endpoint is the
// last path segment: either a full URL such as
//
//	http://models.example.com:9000/transcoder/caption
//
// or a bare path such as transcoder/caption, which is resolved
// against the graph's gateway.
func (g *Graph) AddRemote(target string, needs ...string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", errors.E("flow.AddRemote", target, errors.Invalid, err)
	}
	if u.Opaque != "" {
		return "", errors.E("flow.AddRemote", target, errors.Invalid, errors.New("target is not a URL or path"))
	}
	if u.Host == "" {
		v := *g.gateway
		v.Path = strings.TrimSuffix(v.Path, "/") + "/" + strings.TrimPrefix(u.Path, "/")
		u = &v
	}
	elems := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(elems) < 2 || elems[len(elems)-1] == "" {
		return "", errors.E("flow.AddRemote", target, errors.Invalid, errors.New("target must name an executor and an endpoint"))
	}
	n := &Node{ID: target, Addr: u, Endpoint: elems[len(elems)-1], Needs: needs}
	return target, g.add(n)
}

func (g *Graph) add(n *Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return errors.E("flow.Add", n.ID, errors.Exists)
	}
	g.nodes[n.ID] = n
	if err := g.cycle(n); err != nil {
		delete(g.nodes, n.ID)
		return err
	}
	g.order = append(g.order, n)
	return nil
}

// Remove removes the node with the given ID from the graph. Removal
// fails with kind errors.NotExist if there is no such node, and with
// kind errors.Invalid while another node still depends on it.
func (g *Graph) Remove(id string) error {
	n, ok := g.nodes[id]
	if !ok {
		return errors.E("flow.Remove", id, errors.NotExist)
	}
	for _, m := range g.order {
		for _, need := range m.Needs {
			if need == id {
				return errors.E("flow.Remove", id, errors.Invalid, errors.Errorf("needed by %s", m.ID))
			}
		}
	}
	delete(g.nodes, id)
	for i, m := range g.order {
		if m == n {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return nil
}

// cycle reports whether inserting n closed a dependency cycle.
// Dependencies on nodes not yet added cannot participate in a cycle,
// so checking each insertion suffices.
func (g *Graph) cycle(start *Node) error {
	seen := make(map[string]bool)
	var walk func(n *Node, trail []string) error
	walk = func(n *Node, trail []string) error {
		for _, id := range n.Needs {
			m, ok := g.nodes[id]
			if !ok {
				continue
			}
			if m == start {
				trail = append(trail, id)
				return errors.E("flow.Add", start.ID, errors.Cycle,
					errors.Errorf("dependency cycle %s", strings.Join(trail, " <- ")))
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := walk(m, append(trail, id)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(start, []string{start.ID})
}

// Validate checks that every dependency in the graph names a node in
// the graph, returning an error with kind errors.NotExist otherwise.
func (g *Graph) Validate() error {
	for _, n := range g.order {
		for _, id := range n.Needs {
			if _, ok := g.nodes[id]; !ok {
				return errors.E("flow.Validate", n.ID, errors.NotExist, errors.Errorf("unknown dependency %s", id))
			}
		}
	}
	return nil
}

// Layers validates the graph and returns its nodes grouped into
// dispatch layers: entry nodes form the first layer, and every other
// node appears in the layer after the deepest of its dependencies.
// Within a layer, nodes appear in the order they were added, so the
// layering is deterministic for a given sequence of additions.
func (g *Graph) Layers() ([][]*Node, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(g.order) == 0 {
		return nil, nil
	}
	depths := make(map[string]int, len(g.order))
	var depth func(n *Node) int
	depth = func(n *Node) int {
		if d, ok := depths[n.ID]; ok {
			return d
		}
		var d int
		for _, id := range n.Needs {
			if nd := depth(g.nodes[id]) + 1; nd > d {
				d = nd
			}
		}
		depths[n.ID] = d
		return d
	}
	var max int
	for _, n := range g.order {
		if d := depth(n); d > max {
			max = d
		}
	}
	layers := make([][]*Node, max+1)
	for _, n := range g.order {
		d := depths[n.ID]
		layers[d] = append(layers[d], n)
	}
	return layers, nil
}

// Entries returns the graph's entry nodes in the order they were
// added.
func (g *Graph) Entries() []*Node {
	var entries []*Node
	for _, n := range g.order {
		if len(n.Needs) == 0 {
			entries = append(entries, n)
		}
	}
	return entries
}

// Terminals returns the nodes on whose outputs no other node
// depends, in the order they were added. An evaluation's output is
// the concatenation of its terminal nodes' outputs in this order.
func (g *Graph) Terminals() []*Node {
	needed := make(map[string]bool)
	for _, n := range g.order {
		for _, id := range n.Needs {
			needed[id] = true
		}
	}
	var terminals []*Node
	for _, n := range g.order {
		if !needed[n.ID] {
			terminals = append(terminals, n)
		}
	}
	return terminals
}

// Lookup returns the node with the given ID, or nil if there is
// none.
func (g *Graph) Lookup(id string) *Node {
	return g.nodes[id]
}

// Nodes returns the graph's nodes in the order they were added.
func (g *Graph) Nodes() []*Node {
	return append([]*Node{}, g.order...)
}

// N returns the number of nodes in the graph.
func (g *Graph) N() int {
	return len(g.order)
}

// String renders the graph's nodes and their dependencies.
func (g *Graph) String() string {
	var b strings.Builder
	b.WriteString("graph")
	for _, n := range g.order {
		b.WriteString(" ")
		b.WriteString(n.ID)
		if len(n.Needs) > 0 {
			b.WriteString("(")
			b.WriteString(strings.Join(n.Needs, " "))
			b.WriteString(")")
		}
	}
	return b.String()
}
