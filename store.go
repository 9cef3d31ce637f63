// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"context"
	"io"
	"net/url"

	"github.com/grailbio/base/digest"
)

// A Liveset contains a possibly approximate judgement about live
// objects.
type Liveset interface {
	// Contains returns true if the given object definitely is in the
	// set; it may rarely return true when the object does not.
	Contains(digest.Digest) bool
}

// Attachment describes a payload resident in a Store.
type Attachment struct {
	// ID is the signature of the payload's contents.
	ID digest.Digest
	// Size is the size of the payload in bytes.
	Size int64
}

// Store defines an interface used for servicing record payloads that
// are named-by-hash. The same payload always carries the same
// signature, so stores may be layered and replicated freely.
type Store interface {
	// Stat returns the attachment metadata for the payload with the
	// given signature. It returns errors.NotExist if the payload does
	// not exist in this store.
	Stat(context.Context, digest.Digest) (Attachment, error)

	// Get streams the payload named by the given signature. If it
	// does not exist in this store, an error with kind errors.NotExist
	// is returned.
	Get(context.Context, digest.Digest) (io.ReadCloser, error)

	// Put streams a payload to the store and returns its signature
	// when completed. Put is idempotent: storing a payload that is
	// already present is a no-op that returns the same signature.
	Put(context.Context, io.Reader) (digest.Digest, error)

	// Contains tells whether the store holds the payload with the
	// given signature.
	Contains(context.Context, digest.Digest) (bool, error)

	// Collect removes from this store any objects not in the
	// Liveset.
	Collect(context.Context, Liveset) error

	// URL returns the URL of this store, or nil if it does not have
	// one.
	URL() *url.URL
}
