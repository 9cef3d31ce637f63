// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package local implements the in-process dispatch variant. It
// exercises the same calling discipline as the remote variant so
// that a topology, or a test, may swap one for the other without the
// calling code noticing.
package local

import (
	"context"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
)

// Caller dispatches calls to an executor within the calling flow.
// Local executors invoke their bound handlers directly; remote-client
// executors forward through their own caller, preserving the hybrid
// executor contract.
type Caller struct {
	x *pipeflow.Executor
}

// New returns a caller dispatching to the executor x.
func New(x *pipeflow.Executor) Caller {
	return Caller{x}
}

// Call invokes the named endpoint with rs. Cancellation is honored
// before the handler is invoked; handlers observe ctx themselves
// thereafter.
func (c Caller) Call(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E("call", c.x.Name(), endpoint, err)
	}
	return c.x.Post(ctx, endpoint, rs)
}
