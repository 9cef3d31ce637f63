// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeflowlet implements the pipeflow serving daemon. A
// pipeflowlet hosts a set of executors over the dispatch protocol
// together with an attachment store on a single HTTP server: calls
// are served from the server's root, so that a flow target
// "host:port/executor/endpoint" resolves directly, while the store
// is served under /v1/store/ and the server's provisioned
// configuration under /v1/config.
package pipeflowlet

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v2"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/config"
	dispatchserver "github.com/grailbio/pipeflow/dispatch/server"
	"github.com/grailbio/pipeflow/log"
	"github.com/grailbio/pipeflow/rest"
	"github.com/grailbio/pipeflow/source"
	storeserver "github.com/grailbio/pipeflow/store/server"
)

// shutdownTimeout is the default grace period extended to inflight
// calls when the server is shut down.
const shutdownTimeout = 300 * time.Millisecond

// maxConcurrentStreams is the number of concurrent http/2 streams we
// support.
const maxConcurrentStreams = 20000

// A Server is a pipeflow serving daemon, exposing a set of executors
// and an attachment store over an HTTP server.
type Server struct {
	// Config is the server's configuration, provisioning its logger,
	// store, admission rate, and offload threshold.
	Config config.Config

	// Executors are the executors hosted by this server. Each is
	// served under its name from the server's root, so that call
	// targets resolve as "/<executor>/<endpoint>".
	Executors []*pipeflow.Executor

	// Source fetches external payloads named by record resource
	// references. If nil, a default source resolving file, http, and
	// https URLs is used.
	Source pipeflow.Fetcher

	// Addr is the address on which to listen.
	Addr string
	// ShutdownTimeout bounds how long Shutdown waits for inflight
	// calls before the server is torn down. If zero, a default of
	// 300ms is used.
	ShutdownTimeout time.Duration
	// HTTPDebug determines whether HTTP debug logging is turned on.
	HTTPDebug bool

	configFlag string
	levelFlag  string

	// version of the pipeflowlet instance.
	version string

	mu     sync.Mutex
	server *http.Server
}

// NewServer returns a new server with the specified version.
func NewServer(version string) *Server {
	return &Server{version: version}
}

// AddFlags adds flags configuring various pipeflowlet parameters to
// the provided FlagSet.
func (s *Server) AddFlags(flags *flag.FlagSet) {
	flags.StringVar(&s.configFlag, "config", "", "the pipeflow configuration file")
	flags.StringVar(&s.Addr, "addr", ":8080", "HTTP server address")
	flags.StringVar(&s.levelFlag, "loglevel", "", "override the configured log level (off, error, info, debug)")
	flags.BoolVar(&s.HTTPDebug, "httpdebug", false, "turn on HTTP debug logging")
}

// Handler provisions the server's configuration and assembles its
// HTTP handler: the dispatch tree is served from the root; the
// attachment store (when one is configured) from /v1/store/; and the
// provisioned configuration from /v1/config. When the configuration
// defines an admission rate, dispatch requests are admitted by a
// rate limiter, and failed with http.StatusServiceUnavailable if
// they expire while waiting.
func (s *Server) Handler() (http.Handler, error) {
	if s.configFlag != "" {
		b, err := ioutil.ReadFile(s.configFlag)
		if err != nil {
			return nil, err
		}
		if err := config.Unmarshal(b, s.Config.Keys()); err != nil {
			return nil, err
		}
	}
	var err error
	s.Config, err = config.Make(s.Config)
	if err != nil {
		return nil, err
	}
	once := config.Once(s.Config)
	logger, err := once.Logger()
	if err != nil {
		return nil, err
	}
	if s.levelFlag != "" {
		level, err := log.ParseLevel(s.levelFlag)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Level = level
		}
	}
	store, err := once.Store()
	if err != nil {
		return nil, err
	}
	limit, err := s.Config.Limit()
	if err != nil {
		return nil, err
	}
	inlineMax, err := s.Config.InlineMax()
	if err != nil {
		return nil, err
	}
	src := s.Source
	if src == nil {
		src = source.Default(nil)
	}

	var httpLog *log.Logger
	if s.HTTPDebug {
		httpLog = log.Std.Tee(nil, "http: ")
		httpLog.Level = log.DebugLevel
	}

	root := dispatchNode{nodes: make(map[string]dispatchserver.Node)}
	for _, x := range s.Executors {
		if _, ok := root.nodes[x.Name()]; ok {
			return nil, fmt.Errorf("duplicate executor %s", x.Name())
		}
		root.nodes[x.Name()] = dispatchserver.Node{
			Executor:  x,
			Store:     store,
			Source:    src,
			InlineMax: inlineMax,
			Log:       logger,
		}
		root.names = append(root.names, x.Name())
	}
	sort.Strings(root.names)

	var dispatch http.Handler = rest.Handler(root, httpLog)
	if limit > 0 {
		dispatch = admit(dispatch, rate.NewLimiter(rate.Limit(limit), limit))
	}

	cfgNode, err := newConfigNode(s.Config, s.version)
	if err != nil {
		return nil, fmt.Errorf("read config: %v", err)
	}
	v1 := v1Node{config: cfgNode}
	if store != nil {
		v1.store = storeserver.Node{Store: store}
	}

	mux := http.NewServeMux()
	mux.Handle("/", dispatch)
	mux.Handle("/v1/", http.StripPrefix("/v1", rest.Handler(v1, httpLog)))
	// expvar and pprof handlers register themselves on the default
	// mux.
	mux.Handle("/debug/vars", http.DefaultServeMux)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux, nil
}

// ListenAndServe serves the pipeflowlet server on the configured
// address. The server speaks HTTP/2 over cleartext connections that
// negotiate it. ListenAndServe returns nil after a call to Shutdown
// completes.
func (s *Server) ListenAndServe() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr: s.Addr,
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: maxConcurrentStreams,
		}),
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	err = server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server, extending inflight
// calls a grace period of ShutdownTimeout before tearing the server
// down.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// IgnoreSigpipe consumes (and ignores) SIGPIPE signals. As of Go
// 1.6, these are generated only for stdout and stderr.
//
// This is useful where a pipeflowlet's standard output is closed
// while running, as can happen when journald restarts on systemd
// managed systems.
//
// See the following for more information:
//	https://bugzilla.redhat.com/show_bug.cgi?id=1300076
func IgnoreSigpipe() {
	c := make(chan os.Signal, 1024)
	signal.Notify(c, os.Signal(syscall.SIGPIPE))
	for {
		<-c
	}
}

// dispatchNode serves a set of executors from a single root. Walks
// are forwarded to the dispatch node registered under the first path
// element.
type dispatchNode struct {
	nodes map[string]dispatchserver.Node
	names []string
}

// Walk forwards the walk to the named executor's dispatch node.
func (n dispatchNode) Walk(ctx context.Context, call *rest.Call, name string) rest.Node {
	node, ok := n.nodes[name]
	if !ok {
		return nil
	}
	return node.Walk(ctx, call, name)
}

// Do replies with the names of the executors hosted by this server.
func (n dispatchNode) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("GET") {
		return
	}
	call.Reply(http.StatusOK, n.names)
}

// v1Node serves the server's versioned resources: the attachment
// store under "store" and the provisioned configuration under
// "config".
type v1Node struct {
	store  rest.Node
	config rest.Node
}

func (n v1Node) Walk(ctx context.Context, call *rest.Call, path string) rest.Node {
	switch path {
	case "store":
		return n.store
	case "config":
		return n.config
	default:
		return nil
	}
}

func (n v1Node) Do(ctx context.Context, call *rest.Call) {
	if !call.Allow("GET") {
		return
	}
	call.Reply(http.StatusOK, []string{"config", "store"})
}

func newConfigNode(cfg config.Config, version string) (rest.DoFunc, error) {
	keys := make(config.Keys)
	if err := cfg.Marshal(keys); err != nil {
		return nil, fmt.Errorf("marshal config: %v", err)
	}
	keys["pipeflowletversion"] = version
	b, err := yaml.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("serialize keys: %v", err)
	}
	return func(ctx context.Context, call *rest.Call) {
		if !call.Allow("GET") {
			return
		}
		call.Reply(http.StatusOK, string(b))
	}, nil
}

// admit limits the rate at which requests are admitted to handler.
func admit(handler http.Handler, lim *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := lim.Wait(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
