// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package client

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/rest"
	"github.com/grailbio/pipeflow/store"
)

func init() {
	store.RegisterScheme("http", Dial)
	store.RegisterScheme("https", Dial)
}

// HTTPClient is the client that is used to instantiate the (REST)
// API client for remote stores.
var HTTPClient *http.Client

var (
	mu sync.Mutex
	// clients caches store clients by URL.
	clients = map[string]*Client{}
)

// Dial implements store dialling for http and https urls.
func Dial(u *url.URL) (pipeflow.Store, error) {
	// Call paths resolve against the root URL, so it must end in "/".
	if !strings.HasSuffix(u.Path, "/") {
		v := *u
		v.Path += "/"
		u = &v
	}
	mu.Lock()
	defer mu.Unlock()
	key := u.String()
	if clients[key] == nil {
		clients[key] = &Client{rest.NewClient(HTTPClient, u, nil)}
	}
	return clients[key], nil
}
