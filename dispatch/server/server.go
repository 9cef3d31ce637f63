// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package server implements the remote dispatch variant's host side:
// a REST node tree serving the endpoints of an executor. Paths are
// walked as <executor-name>/<endpoint>.
package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/dispatch"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/log"
	"github.com/grailbio/pipeflow/rest"
)

// Node is the root of the dispatch resource tree. It serves calls to
// the endpoints bound on Executor.
type Node struct {
	// Executor hosts the endpoints served by this node.
	Executor *pipeflow.Executor

	// Store, when non-nil, resolves references shipped with incoming
	// record sets before the handler runs and stores oversized
	// result values, shipping their signatures instead.
	Store pipeflow.Store

	// Source optionally fetches resource refs during resolution.
	Source pipeflow.Fetcher

	// InlineMax is the largest inline value shipped back to the
	// caller when Store is set. Zero disables offloading.
	InlineMax int64

	Log *log.Logger
}

// Walk admits paths naming this node's executor.
func (n Node) Walk(ctx context.Context, call *rest.Call, name string) rest.Node {
	if name != n.Executor.Name() {
		return nil
	}
	return executorNode{n}
}

// Do replies with the executor's name.
func (n Node) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("GET") {
		return
	}
	call.Reply(http.StatusOK, n.Executor.Name())
}

type executorNode struct {
	n Node
}

func (e executorNode) Walk(ctx context.Context, call *rest.Call, endpoint string) rest.Node {
	return endpointNode{e.n, endpoint}
}

// Do lists the endpoints bound on the executor.
func (e executorNode) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("GET") {
		return
	}
	call.Reply(http.StatusOK, e.n.Executor.Endpoints())
}

type endpointNode struct {
	n        Node
	endpoint string
}

func (e endpointNode) Walk(ctx context.Context, call *rest.Call, path string) rest.Node {
	return nil
}

func (e endpointNode) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("POST") {
		return
	}
	format := pipeflow.FormatFromContentType(call.Header().Get("Content-Type"))
	var req dispatch.Request
	if err := dispatch.Decode(call.Body(), format, &req); err != nil {
		call.Error(err)
		return
	}
	if req.Endpoint != "" && req.Endpoint != e.endpoint {
		call.Error(errors.E("call", e.endpoint, errors.Invalid,
			errors.Errorf("mismatched request endpoint %s", req.Endpoint)))
		return
	}
	h, err := e.n.Executor.Resolve(e.endpoint)
	if err != nil {
		call.Error(err)
		return
	}
	in := req.Records
	if e.n.Store != nil {
		in, err = pipeflow.Resolve(ctx, e.n.Store, e.n.Source, in)
		if err != nil {
			call.Error(errors.E("call", e.endpoint, err))
			return
		}
	}
	out, err := h(ctx, in)
	if err != nil {
		call.Error(errors.E("call", e.n.Executor.Name(), e.endpoint, errors.Remote, err))
		return
	}
	if e.n.Store != nil && e.n.InlineMax > 0 {
		out, err = pipeflow.Offload(ctx, e.n.Store, e.n.InlineMax, out)
		if err != nil {
			call.Error(errors.E("call", e.endpoint, err))
			return
		}
	}
	body := new(bytes.Buffer)
	if err := dispatch.Encode(body, format, dispatch.Reply{Records: out}); err != nil {
		call.Error(err)
		return
	}
	call.ReplyHeader().Set("Content-Type", format.ContentType())
	if err := call.Write(http.StatusOK, body); err != nil {
		e.n.Log.Errorf("dispatch: write %s %s: %v", e.n.Executor.Name(), e.endpoint, err)
	}
}
