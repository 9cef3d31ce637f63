// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/dispatch"
	_ "github.com/grailbio/pipeflow/dispatch/client" // registers http, https
	"github.com/grailbio/pipeflow/dispatch/local"
	"github.com/grailbio/pipeflow/log"
)

// EvalConfig configures the evaluation of a graph.
type EvalConfig struct {
	// Store stores record payloads. If it is non-nil, referenced and
	// offloaded payloads are resolved through it before local
	// endpoints are invoked, and oversized payloads on remote calls
	// travel through it by signature.
	Store pipeflow.Store

	// Source retrieves referenced payloads from their origin URLs.
	Source pipeflow.Fetcher

	// Log receives evaluation progress. A nil Log is valid and
	// discards everything.
	Log *log.Logger

	// Format selects the wire format for remote dispatch. The zero
	// format is pipeflow.FmtJSON.
	Format pipeflow.Format

	// InlineMax bounds the payload size shipped inline on remote
	// calls; larger payloads are offloaded to Store and travel by
	// signature. Zero disables offloading.
	InlineMax int64

	// CallTimeout bounds each node call. Zero means no timeout.
	CallTimeout time.Duration

	// HTTPClient overrides the http.Client used for remote dispatch.
	HTTPClient *http.Client
}

// A NodeError describes the failure of a single node during an
// evaluation. The evaluation returns the first NodeError it observes
// and cancels the calls still in flight.
type NodeError struct {
	// Node is the ID of the failed node.
	Node string
	// Err is the failure itself.
	Err error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }

// Unwrap returns the underlying failure.
func (e *NodeError) Unwrap() error { return e.Err }

// EvalStats summarizes an evaluator's dispatch activity.
type EvalStats struct {
	// Evals is the number of completed evaluations.
	Evals int
	// Calls is the number of node calls made.
	Calls int
	// Errors is the number of node calls that failed.
	Errors int
	// Min, Mean, and Max summarize call latencies.
	Min, Mean, Max time.Duration
}

func (s EvalStats) String() string {
	return fmt.Sprintf("evals:%d calls:%d errors:%d latency:%s", s.Evals, s.Calls, s.Errors, summary(s.Min, s.Mean, s.Max))
}

// pinner is implemented by stores that can pin entries against
// eviction, such as package cache's.
type pinner interface {
	Pin(digest.Digest) bool
	Unpin(digest.Digest)
}

// An Eval evaluates a Graph. Evals are created by NewEval and are
// safe for concurrent use: each call to Do is an independent
// evaluation.
type Eval struct {
	// EvalConfig is the evaluation's configuration.
	EvalConfig

	graph   *Graph
	layers  [][]*Node
	callers map[string]pipeflow.Caller
	pin     pinner

	mu        sync.Mutex
	nevals    int
	ncalls    int
	nerrors   int
	latencies stats
}

// NewEval returns an evaluator for graph, which must validate. A
// caller is materialized for every node: executor nodes are called
// through their executor, while remote nodes are dialed through
// their address.
func NewEval(graph *Graph, config EvalConfig) (*Eval, error) {
	layers, err := graph.Layers()
	if err != nil {
		return nil, err
	}
	e := &Eval{
		EvalConfig: config,
		graph:      graph,
		layers:     layers,
		callers:    make(map[string]pipeflow.Caller, graph.N()),
	}
	e.pin, _ = config.Store.(pinner)
	for _, n := range graph.Nodes() {
		if n.Executor != nil {
			e.callers[n.ID] = local.New(n.Executor)
			continue
		}
		base := *n.Addr
		base.Path = strings.TrimSuffix(strings.TrimSuffix(base.Path, "/"), n.Endpoint)
		caller, err := dispatch.Dial(base.String(), dispatch.Config{
			Format:     config.Format,
			Store:      config.Store,
			InlineMax:  config.InlineMax,
			HTTPClient: config.HTTPClient,
			Log:        config.Log,
		})
		if err != nil {
			return nil, err
		}
		e.callers[n.ID] = caller
	}
	return e, nil
}

// Do evaluates the graph over the posted record set rs and returns
// the evaluation's output. Entry nodes each receive rs; every other
// node receives the outputs of its needs, concatenated in
// declaration order regardless of the order in which they completed.
// The layers of the graph are evaluated in sequence, the nodes
// within a layer concurrently. The output is the concatenation of
// the terminal nodes' outputs in the order the nodes were added.
//
// The first node failure cancels the calls still in flight and is
// returned as a *NodeError wrapping the cause; no output is returned
// and no calls are retried.
func (e *Eval) Do(ctx context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	begin := time.Now()
	outputs := make(map[string]pipeflow.RecordSet, e.graph.N())
	var mu sync.Mutex
	for _, layer := range e.layers {
		g, gctx := errgroup.WithContext(ctx)
		for _, n := range layer {
			n := n
			g.Go(func() error {
				var in pipeflow.RecordSet
				if len(n.Needs) == 0 {
					in = rs
				} else {
					mu.Lock()
					for _, id := range n.Needs {
						in = append(in, outputs[id]...)
					}
					mu.Unlock()
				}
				out, err := e.eval(gctx, n, in)
				if err != nil {
					return &NodeError{Node: n.ID, Err: err}
				}
				mu.Lock()
				outputs[n.ID] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	var out pipeflow.RecordSet
	for _, n := range e.graph.Terminals() {
		out = append(out, outputs[n.ID]...)
	}
	if e.Store != nil || e.Source != nil {
		var err error
		out, err = pipeflow.Resolve(ctx, e.Store, e.Source, out)
		if err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	e.nevals++
	e.mu.Unlock()
	e.Log.Debugf("flow: evaluated %d nodes in %d layers in %s", e.graph.N(), len(e.layers), time.Since(begin))
	return out, nil
}

// eval invokes a single node over its assembled input. Inputs of
// local endpoints are resolved first so that handlers always see
// inline payloads; remote inputs are left to the dispatch client,
// which offloads them as configured. Payloads are pinned in the
// store, when it supports pinning, for the duration of the call.
func (e *Eval) eval(ctx context.Context, n *Node, in pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	if n.Executor != nil && !n.Executor.Remote() && (e.Store != nil || e.Source != nil) {
		var err error
		in, err = pipeflow.Resolve(ctx, e.Store, e.Source, in)
		if err != nil {
			return nil, err
		}
	}
	if e.pin != nil {
		for _, id := range in.Signatures() {
			if e.pin.Pin(id) {
				defer e.pin.Unpin(id)
			}
		}
	}
	if e.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CallTimeout)
		defer cancel()
	}
	e.Log.Debugf("flow: call %s (%d records)", n.ID, in.N())
	begin := time.Now()
	out, err := e.callers[n.ID].Call(ctx, n.Endpoint, in)
	elapsed := time.Since(begin)
	e.mu.Lock()
	e.ncalls++
	if err != nil {
		e.nerrors++
	}
	e.latencies.Add(elapsed)
	e.mu.Unlock()
	if err != nil {
		e.Log.Errorf("flow: %s: %v", n.ID, err)
		return nil, err
	}
	e.Log.Debugf("flow: %s done in %s (%d records)", n.ID, elapsed, out.N())
	return out, nil
}

// Stats returns the evaluator's activity summary, accumulated across
// evaluations.
func (e *Eval) Stats() EvalStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EvalStats{
		Evals:  e.nevals,
		Calls:  e.ncalls,
		Errors: e.nerrors,
		Min:    e.latencies.Percentile(0),
		Mean:   e.latencies.Mean(),
		Max:    e.latencies.Percentile(100),
	}
}
