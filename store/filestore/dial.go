// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package filestore

import (
	"net/url"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/store"
)

func init() {
	store.RegisterScheme("file", Dial)
}

// Dial implements store dialling for file urls: file:///var/pipeflow
// names a store rooted at /var/pipeflow.
func Dial(u *url.URL) (pipeflow.Store, error) {
	return &Store{Root: u.Path, StoreURL: u}, nil
}
