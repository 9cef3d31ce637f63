// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package client implements an attachment store REST client.
package client

import (
	"context"
	"io"
	"net/http"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/rest"
)

// Client is a Store that dispatches requests to a server
// implementing the store REST API.
type Client struct {
	*rest.Client
}

func (c *Client) String() string {
	return "remote:" + c.Client.URL().String()
}

// Stat queries the store for the attachment metadata for the given object.
func (c *Client) Stat(ctx context.Context, id digest.Digest) (pipeflow.Attachment, error) {
	call := c.Call("HEAD", "%s", id)
	defer call.Close()
	code, err := call.Do(ctx, nil)
	if err != nil {
		return pipeflow.Attachment{}, errors.E("stat", id, err)
	}
	// HEAD requests are special: their bodies are dropped by Go's
	// HTTP library. So we need to reconstruct errors here.
	switch code {
	case http.StatusOK:
		return pipeflow.Attachment{ID: id, Size: call.ContentLength()}, nil
	case http.StatusNotFound:
		return pipeflow.Attachment{}, errors.E("stat", id, errors.NotExist, errors.Errorf("attachment %v does not exist", id))
	default:
		return pipeflow.Attachment{}, errors.E("stat", id, errors.Errorf("unexpected status %d", code))
	}
}

// Get retrieves the object with digest id.
func (c *Client) Get(ctx context.Context, id digest.Digest) (io.ReadCloser, error) {
	call := c.Call("GET", "%s", id)
	code, err := call.Do(ctx, nil)
	if err != nil {
		return nil, errors.E("get", id, err)
	}
	if code != http.StatusOK {
		defer call.Close()
		return nil, call.Error()
	}
	return call, nil
}

// Put writes the object in body to the store.
func (c *Client) Put(ctx context.Context, body io.Reader) (digest.Digest, error) {
	call := c.Call("POST", "")
	defer call.Close()
	code, err := call.Do(ctx, body)
	if err != nil {
		return digest.Digest{}, errors.E("put", "<body>", err)
	}
	if code != http.StatusOK {
		return digest.Digest{}, call.Error()
	}
	var d digest.Digest
	err = call.Unmarshal(&d)
	return d, err
}

// Contains tells whether the store has an object with a digest.
func (c *Client) Contains(ctx context.Context, id digest.Digest) (bool, error) {
	_, err := c.Stat(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(errors.NotExist, err) {
		return false, nil
	}
	return false, err
}

// Collect instructs the store to collect all objects not in the liveset.
func (c *Client) Collect(ctx context.Context, live pipeflow.Liveset) error {
	call := c.Call("POST", "collect")
	defer call.Close()
	code, err := call.DoJSON(ctx, live)
	if err != nil {
		return errors.E("collect", err)
	}
	if code != http.StatusOK {
		return call.Error()
	}
	return nil
}
