// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package source retrieves record payloads from their origin URLs.
// Fetchers are multiplexed by URL scheme; URLs passed into a Mux are
// interpreted as:
//
//	scheme://host/path
//
// Bare paths (no scheme) are interpreted as local files.
package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"golang.org/x/net/context/ctxhttp"
)

// Mux multiplexes a number of fetcher implementations by URL scheme.
// Mux implements pipeflow.Fetcher.
type Mux map[string]pipeflow.Fetcher

// Default returns a Mux that resolves local file paths together with
// file, http, https, and s3 URLs. The s3 scheme is installed only
// when an S3 client is provided.
func Default(client s3iface.S3API) Mux {
	m := Mux{
		"file":  File{},
		"http":  HTTP{},
		"https": HTTP{},
	}
	if client != nil {
		m["s3"] = S3{Client: client}
	}
	return m
}

// Fetch parses the provided URL, looks up the fetcher registered for
// its scheme, and retrieves the named payload. An errors.NotSupported
// is returned if there is no fetcher for the requested scheme.
func (m Mux) Fetch(ctx context.Context, rawurl string) (io.ReadCloser, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.E("source.Fetch", rawurl, errors.Invalid, err)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	fetcher, ok := m[scheme]
	if !ok {
		return nil, errors.E(errors.NotSupported, "source.Fetch", rawurl,
			errors.Errorf("no fetcher for scheme %s", scheme))
	}
	return fetcher.Fetch(ctx, rawurl)
}

// File fetches payloads from the local filesystem. It accepts both
// bare paths and file URLs.
type File struct{}

// Fetch opens the file named by rawurl.
func (File) Fetch(ctx context.Context, rawurl string) (io.ReadCloser, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.E("fetch", rawurl, errors.Invalid, err)
	}
	path := rawurl
	if u.Scheme != "" {
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E("fetch", rawurl, err)
	}
	return f, nil
}

// HTTP fetches payloads over HTTP.
type HTTP struct {
	// Client is the HTTP client used to issue requests. If nil,
	// http.DefaultClient is used.
	Client *http.Client
}

// Fetch retrieves the payload named by rawurl with an HTTP GET.
func (h HTTP) Fetch(ctx context.Context, rawurl string) (io.ReadCloser, error) {
	resp, err := ctxhttp.Get(ctx, h.Client, rawurl)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.E("fetch", rawurl, errors.Timeout, err)
		}
		return nil, errors.E("fetch", rawurl, errors.Unreachable, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.E("fetch", rawurl, errors.NotExist)
	default:
		resp.Body.Close()
		return nil, errors.E("fetch", rawurl, errors.Errorf("unexpected status %s", resp.Status))
	}
}

// S3 fetches payloads from S3 objects.
type S3 struct {
	Client s3iface.S3API
}

// Fetch retrieves the S3 object named by rawurl, interpreted as
// s3://bucket/key.
func (s S3) Fetch(ctx context.Context, rawurl string) (io.ReadCloser, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.E("fetch", rawurl, errors.Invalid, err)
	}
	resp, err := s.Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		if e, ok := err.(awserr.Error); ok && (e.Code() == "NoSuchKey" || e.Code() == "NoSuchBucket") {
			return nil, errors.E("fetch", rawurl, errors.NotExist, err)
		}
		return nil, errors.E("fetch", rawurl, err)
	}
	return resp.Body, nil
}
