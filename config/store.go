// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"errors"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/store"
)

func init() {
	Register(Store, "dial", "url", "dial an attachment store, e.g. file:///var/pipeflow or s3://bucket/prefix",
		func(cfg Config, arg string) (Config, error) {
			if arg == "" {
				return nil, errors.New("dial: missing store URL")
			}
			return &dialStore{cfg, arg}, nil
		},
	)
}

type dialStore struct {
	Config
	rawurl string
}

func (c *dialStore) Store() (pipeflow.Store, error) {
	return store.Dial(c.rawurl)
}
