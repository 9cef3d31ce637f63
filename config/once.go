// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/log"
)

// OnceConfig memoizes the first call of the following methods to the
// underlying config: Logger and Store.
type OnceConfig struct {
	Config

	loggerOnce once.Task
	logger     *log.Logger

	storeOnce once.Task
	store     pipeflow.Store
}

// Once constructs a new OnceConfig using the provided underlying
// configuration.
func Once(cfg Config) *OnceConfig {
	return &OnceConfig{Config: cfg}
}

// Logger returns the result of the first call to the underlying
// configuration's Logger.
func (o *OnceConfig) Logger() (*log.Logger, error) {
	err := o.loggerOnce.Do(func() (err error) {
		o.logger, err = o.Config.Logger()
		return
	})
	return o.logger, err
}

// Store returns the result of the first call to the underlying
// configuration's Store.
func (o *OnceConfig) Store() (pipeflow.Store, error) {
	err := o.storeOnce.Do(func() (err error) {
		o.store, err = o.Config.Store()
		return
	})
	return o.store, err
}
