// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blobstore

import (
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/store"
)

var (
	mu            sync.Mutex
	clients       = map[string]s3iface.S3API{}
	defaultClient s3iface.S3API
)

func init() {
	store.RegisterScheme("s3", Dial)
}

// SetClient sets the default s3 client to use for dialling stores.
// If non-nil, it is used when there is not a more specific per-bucket
// client.
func SetClient(client s3iface.S3API) {
	mu.Lock()
	defaultClient = client
	mu.Unlock()
}

// SetBucketClient sets the s3 client to use for dialling stores on
// the given bucket.
func SetBucketClient(bucket string, client s3iface.S3API) {
	mu.Lock()
	clients[bucket] = client
	mu.Unlock()
}

// Dial dials an s3 store. The URL must have the form:
//
//	s3://bucket/prefix
func Dial(u *url.URL) (pipeflow.Store, error) {
	if u.Scheme != "s3" {
		return nil, errors.E("dial", u.String(), errors.NotSupported, errors.Errorf("unknown scheme %v", u.Scheme))
	}
	bucket := u.Host
	mu.Lock()
	client := clients[bucket]
	if client == nil {
		client = defaultClient
	}
	mu.Unlock()
	if client == nil {
		return nil, errors.E("dial", u.String(), errors.NotSupported, errors.Errorf("bucket %s not registered for dialing", bucket))
	}
	return &Store{
		Client: client,
		Bucket: bucket,
		Prefix: strings.TrimPrefix(u.Path, "/"),
	}, nil
}
