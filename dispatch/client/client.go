// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package client implements the remote dispatch variant's calling
// side over HTTP. Clients are created explicitly with New or dialed
// through package dispatch with the schemes http and https.
package client

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/dispatch"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/rest"
)

func init() {
	dial := func(u *url.URL, config dispatch.Config) (pipeflow.Caller, error) {
		return New(u, config), nil
	}
	dispatch.RegisterScheme("http", dial)
	dispatch.RegisterScheme("https", dial)
}

// Client posts record sets to executor endpoints served remotely.
// Client implements pipeflow.Caller.
type Client struct {
	rest   *rest.Client
	config dispatch.Config
}

// New returns a client dispatching calls to the endpoints served
// under the base URL u. The endpoint name is appended to the base
// URL's path for each call.
func New(u *url.URL, config dispatch.Config) *Client {
	if !strings.HasSuffix(u.Path, "/") {
		v := *u
		v.Path += "/"
		u = &v
	}
	return &Client{rest: rest.NewClient(config.HTTPClient, u, config.Log), config: config}
}

// URL returns the client's base URL.
func (c *Client) URL() *url.URL {
	return c.rest.URL()
}

// Call posts rs to the named endpoint and returns the record set it
// produces. Failures carry the transport kinds of package errors:
// Timeout when the call's deadline is exceeded, Unreachable when the
// host cannot be reached, Serialization for codec failures, and the
// error shipped by the far side otherwise, kinds intact.
func (c *Client) Call(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}
	if c.config.Store != nil && c.config.InlineMax > 0 {
		var err error
		rs, err = pipeflow.Offload(ctx, c.config.Store, c.config.InlineMax, rs)
		if err != nil {
			return nil, errors.E("call", endpoint, err)
		}
	}
	body := new(bytes.Buffer)
	err := dispatch.Encode(body, c.config.Format, dispatch.Request{Endpoint: endpoint, Records: rs})
	if err != nil {
		return nil, errors.E("call", endpoint, err)
	}
	call := c.rest.Call("POST", "%s", endpoint)
	defer call.Close()
	call.Header.Set("Content-Type", c.config.Format.ContentType())
	code, err := call.Do(ctx, body)
	if err != nil {
		return nil, errors.E("call", endpoint, err)
	}
	if code != http.StatusOK {
		return nil, errors.E("call", endpoint, call.Error())
	}
	format := pipeflow.FormatFromContentType(call.ReplyHeader().Get("Content-Type"))
	var reply dispatch.Reply
	if err := dispatch.Decode(call, format, &reply); err != nil {
		return nil, errors.E("call", endpoint, err)
	}
	return reply.Records, nil
}
