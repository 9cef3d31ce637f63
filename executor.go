// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/grailbio/pipeflow/errors"
)

// A Handler services calls to a single executor endpoint. The input
// record set is owned by the handler for the duration of the call;
// the returned record set transfers to the caller on return.
type Handler func(ctx context.Context, rs RecordSet) (RecordSet, error)

// A Caller dispatches record sets to executor endpoints. Callers
// provide a uniform calling discipline over in-process and remote
// executors: the caller of Call cannot tell which it holds. Package
// dispatch provides implementations.
type Caller interface {
	// Call dispatches rs to the named endpoint, returning the record
	// set it produces. The input record set is owned by the call; the
	// output record set is owned by the caller. Call failures carry
	// the kinds of package errors: Unreachable, Timeout,
	// Serialization, and Remote for calls that fail on the far side.
	Call(ctx context.Context, endpoint string, rs RecordSet) (RecordSet, error)
}

// An Executor hosts a set of named endpoints. Executors come in two
// modes. Local executors bind endpoint names to handlers in process.
// Remote-client executors stand in for an executor served elsewhere:
// they hold no bindings and thus never resolve an endpoint locally;
// calls are instead forwarded through the executor's caller.
type Executor struct {
	name   string
	addr   *url.URL
	caller Caller

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewExecutor returns a new local executor with the provided name.
func NewExecutor(name string) *Executor {
	return &Executor{name: name, handlers: map[string]Handler{}}
}

// NewClientExecutor returns a new remote-client executor standing in
// for the executor named name served at addr. Calls are forwarded
// through caller.
func NewClientExecutor(name string, addr *url.URL, caller Caller) *Executor {
	return &Executor{name: name, addr: addr, caller: caller}
}

// Name returns the executor's name.
func (x *Executor) Name() string { return x.name }

// Remote tells whether this is a remote-client executor.
func (x *Executor) Remote() bool { return x.addr != nil }

// Addr returns the address at which the executor is served, or nil
// for local executors.
func (x *Executor) Addr() *url.URL { return x.addr }

// Register binds handler h to the named endpoint. Registering the
// same endpoint twice is an error with kind errors.Exists;
// registering any endpoint on a remote-client executor is an error
// with kind errors.NotSupported.
func (x *Executor) Register(endpoint string, h Handler) error {
	if x.Remote() {
		return errors.E("register", x.name, endpoint, errors.NotSupported, errors.New("remote-client executor"))
	}
	if h == nil {
		return errors.E("register", x.name, endpoint, errors.Invalid, errors.New("nil handler"))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.handlers[endpoint]; ok {
		return errors.E("register", x.name, endpoint, errors.Exists)
	}
	x.handlers[endpoint] = h
	return nil
}

// Resolve returns the handler bound to the named endpoint. If the
// endpoint is not bound, Resolve returns an error with kind
// errors.NotExist. Remote-client executors hold no bindings, so
// resolution always fails for them.
func (x *Executor) Resolve(endpoint string) (Handler, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.handlers[endpoint]
	if !ok {
		return nil, errors.E("resolve", x.name, endpoint, errors.NotExist)
	}
	return h, nil
}

// Endpoints returns the sorted names of the endpoints bound on this
// executor.
func (x *Executor) Endpoints() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	endpoints := make([]string, 0, len(x.handlers))
	for name := range x.handlers {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Post dispatches rs to the named endpoint. Local executors invoke
// the bound handler in the calling flow; remote-client executors
// forward the call through their caller.
func (x *Executor) Post(ctx context.Context, endpoint string, rs RecordSet) (RecordSet, error) {
	h, err := x.Resolve(endpoint)
	switch {
	case err == nil:
		return h(ctx, rs)
	case !x.Remote():
		return nil, err
	case x.caller == nil:
		return nil, errors.E("post", x.name, endpoint, errors.Invalid, errors.New("no caller bound"))
	default:
		return x.caller.Call(ctx, endpoint, rs)
	}
}
