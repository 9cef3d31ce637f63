// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Pipeflowlet is the serving daemon for pipeflow. It exposes an
// attachment store and a set of executors through pipeflow's REST
// API.
package main

import (
	_ "expvar"
	"flag"
	"fmt"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailbio/pipeflow/config"
	"github.com/grailbio/pipeflow/log"
	"github.com/grailbio/pipeflow/pipeflowlet"
	_ "github.com/grailbio/pipeflow/store/blobstore"
	_ "github.com/grailbio/pipeflow/store/client"
	_ "github.com/grailbio/pipeflow/store/filestore"
)

// version of the pipeflowlet build.
const version = "pipeflow0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: pipeflowlet [flags]

Pipeflowlet is the serving daemon for pipeflow. It serves the
dispatch protocol from the server's root, so that call targets
resolve as "host:port/executor/endpoint", and an attachment store
under /v1/store/.

A standalone pipeflowlet acts as a shared attachment store for
record offloading. Hosts that serve model endpoints embed
pipeflowlet.Server in their own main and register executors before
serving.
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	// Make sure that we always shut down with a non-zero exit code,
	// so that systemd considers the process failed.
	defer os.Exit(1)
	server := pipeflowlet.NewServer(version)
	server.AddFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()
	server.Config = make(config.Base)
	go pipeflowlet.IgnoreSigpipe()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		server.Shutdown()
	}()
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
