// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/pipeflow/errors"
)

// A Fetcher retrieves payloads named by URL. Package source provides
// an implementation multiplexing across URL schemes.
type Fetcher interface {
	// Fetch returns a stream of the payload named by rawurl. Payloads
	// that do not exist return errors with kind errors.NotExist.
	Fetch(ctx context.Context, rawurl string) (io.ReadCloser, error)
}

// Resolve returns a copy of rs in which every record carries its
// payload inline together with its signature: reference records are
// fetched from their source and installed in store; records already
// resolved to a signature have their payloads retrieved from store.
// Records are resolved in parallel. Resolve never mutates rs.
//
// A record's signature is computed at most once: resolving a record
// whose signature is already set verifies that the payload has not
// drifted from it, failing with kind errors.Integrity if it has.
func Resolve(ctx context.Context, store Store, fetcher Fetcher, rs RecordSet) (RecordSet, error) {
	out := make(RecordSet, len(rs))
	copy(out, rs)
	err := traverse.Each(len(out), func(i int) error {
		var err error
		out[i], err = resolve(ctx, store, fetcher, out[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolve(ctx context.Context, store Store, fetcher Fetcher, r Record) (Record, error) {
	if r.Kind == KindComposite {
		fields := make(map[string]Record, len(r.Fields))
		for name, f := range r.Fields {
			g, err := resolve(ctx, store, fetcher, f)
			if err != nil {
				return Record{}, err
			}
			fields[name] = g
		}
		r.Fields = fields
		return r, nil
	}
	switch {
	case len(r.Value) != 0:
		id := Digester.FromBytes(r.Value)
		if !r.ID.IsZero() && r.ID != id {
			return Record{}, errors.E("resolve", r.ID, errors.Integrity, errors.Errorf("payload digest is %s", id))
		}
		r.ID = id
		return r, nil
	case !r.ID.IsZero():
		if store == nil {
			return Record{}, errors.E("resolve", r.ID, errors.Invalid, errors.New("no store"))
		}
		rc, err := store.Get(ctx, r.ID)
		if err != nil {
			return Record{}, err
		}
		b, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Record{}, errors.E("resolve", r.ID, err)
		}
		r.Value = b
		return r, nil
	case r.Source != "":
		if fetcher == nil {
			return Record{}, errors.E("resolve", r.Source, errors.Invalid, errors.New("no fetcher"))
		}
		rc, err := fetcher.Fetch(ctx, r.Source)
		if err != nil {
			return Record{}, err
		}
		b, err := ioutil.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Record{}, errors.E("resolve", r.Source, err)
		}
		if store != nil {
			id, err := store.Put(ctx, bytes.NewReader(b))
			if err != nil {
				return Record{}, err
			}
			r.ID = id
		} else {
			r.ID = Digester.FromBytes(b)
		}
		r.Value = b
		return r, nil
	default:
		return Record{}, errors.E("resolve", errors.Invalid, errors.New("record has no source, value, or signature"))
	}
}

// Offload returns a copy of rs in which every inline payload larger
// than max bytes is replaced by its signature, after installing the
// payload in store. Offloaded records are recovered by Resolve on
// the receiving side. Offload never mutates rs.
func Offload(ctx context.Context, store Store, max int64, rs RecordSet) (RecordSet, error) {
	out := make(RecordSet, len(rs))
	copy(out, rs)
	err := traverse.Each(len(out), func(i int) error {
		var err error
		out[i], err = offload(ctx, store, max, out[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func offload(ctx context.Context, store Store, max int64, r Record) (Record, error) {
	if r.Kind == KindComposite {
		fields := make(map[string]Record, len(r.Fields))
		for name, f := range r.Fields {
			g, err := offload(ctx, store, max, f)
			if err != nil {
				return Record{}, err
			}
			fields[name] = g
		}
		r.Fields = fields
		return r, nil
	}
	if int64(len(r.Value)) <= max {
		return r, nil
	}
	if store == nil {
		return Record{}, errors.E("offload", errors.Invalid, errors.New("no store"))
	}
	id, err := store.Put(ctx, bytes.NewReader(r.Value))
	if err != nil {
		return Record{}, err
	}
	if !r.ID.IsZero() && r.ID != id {
		return Record{}, errors.E("offload", r.ID, errors.Integrity, errors.Errorf("payload digest is %s", id))
	}
	r.ID = id
	r.Value = nil
	return r, nil
}
