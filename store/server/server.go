// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package server implements an attachment store REST server.
package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/liveset/bloomlive"
	"github.com/grailbio/pipeflow/rest"
)

// Node is a REST node serving a Store.
type Node struct {
	Store pipeflow.Store
}

// Walk walks the Node tree to path.
func (n Node) Walk(ctx context.Context, call *rest.Call, path string) rest.Node {
	switch {
	case path == "collect":
		return collectNode{n.Store}
	default:
		id, err := pipeflow.Digester.Parse(path)
		if err != nil {
			call.Error(errors.E("walk", path, err))
			return nil
		}
		return attachmentNode{n.Store, id}
	}
}

// Do performs call on node n.
func (n Node) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("POST") {
		return
	}
	d, err := n.Store.Put(ctx, call.Body())
	if err != nil {
		call.Error(err)
		return
	}
	call.Reply(http.StatusOK, d)
}

type collectNode struct{ pipeflow.Store }

func (n collectNode) Walk(ctx context.Context, call *rest.Call, path string) rest.Node {
	return nil
}

func (n collectNode) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("POST") {
		return
	}
	var live bloomlive.T
	if call.Unmarshal(&live) != nil {
		return
	}
	err := n.Store.Collect(ctx, &live)
	if err != nil {
		call.Error(err)
		return
	}
	call.Reply(http.StatusOK, nil)
}

type attachmentNode struct {
	s  pipeflow.Store
	id digest.Digest
}

func (n attachmentNode) Walk(ctx context.Context, call *rest.Call, path string) rest.Node {
	return nil
}

func (n attachmentNode) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("HEAD", "GET", "POST") {
		return
	}
	switch call.Method() {
	case "HEAD":
		att, err := n.s.Stat(ctx, n.id)
		if err != nil {
			call.Error(err)
			return
		}
		call.ReplyHeader().Set("Content-Length", strconv.FormatInt(att.Size, 10))
		call.Reply(http.StatusOK, nil)
	case "GET":
		rc, err := n.s.Get(ctx, n.id)
		if err != nil {
			call.Error(err)
			return
		}
		call.ReplyHeader().Set("Content-Type", "application/octet-stream")
		call.Write(http.StatusOK, rc)
		rc.Close()
	case "POST":
		id, err := n.s.Put(ctx, call.Body())
		if err != nil {
			call.Error(err)
			return
		}
		call.Reply(http.StatusOK, id)
	}
}
