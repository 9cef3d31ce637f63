// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	golog "log"
	"os"

	"github.com/grailbio/pipeflow/log"
)

func init() {
	Register(Logger, "stderr", "level", "log to standard error at the given level (off, error, info, debug)",
		func(cfg Config, arg string) (Config, error) {
			level := log.InfoLevel
			if arg != "" {
				var err error
				level, err = log.ParseLevel(arg)
				if err != nil {
					return nil, err
				}
			}
			return &stderrLogger{cfg, level}, nil
		},
	)
}

type stderrLogger struct {
	Config
	level log.Level
}

func (c *stderrLogger) Logger() (*log.Logger, error) {
	return log.New(golog.New(os.Stderr, "", golog.LstdFlags), c.level), nil
}
