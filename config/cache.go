// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/cache"
)

func init() {
	Register(Cache, "lru", "bytes", "front the configured store with an in-memory cache of the given capacity in bytes",
		func(cfg Config, arg string) (Config, error) {
			size, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || size <= 0 {
				return nil, fmt.Errorf("lru: invalid capacity %q", arg)
			}
			return &lruCache{cfg, size}, nil
		},
	)
}

type lruCache struct {
	Config
	size int64
}

// Store returns the underlying configuration's store fronted by an
// in-memory cache. The store key must be provisioned for the cache
// to front.
func (c *lruCache) Store() (pipeflow.Store, error) {
	backing, err := c.Config.Store()
	if err != nil {
		return nil, err
	}
	if backing == nil {
		return nil, errors.New("lru: no store configured to front")
	}
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	return cache.New(backing, c.size, logger), nil
}
