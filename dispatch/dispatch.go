// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dispatch implements the calling discipline through which
// record sets are posted to executor endpoints. A dispatch caller
// hides whether its callee runs in process or across the network:
// package local invokes bound handlers directly, while packages
// client and server implement the HTTP remote variant. Code holding
// a pipeflow.Caller never learns which variant it has.
//
// The remote wire contract: a call is an HTTP POST to the endpoint's
// URL whose body is a Request message; a successful reply body is a
// Reply message. Both are encoded in the format named by the request
// Content-Type header, JSON or binary, and replies mirror the
// request's format. Failed calls reply with an encoded error that
// preserves its kind across the wire.
package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Request is the wire form of a dispatch call.
type Request struct {
	// Endpoint names the endpoint being called. It must agree with
	// the endpoint named by the request URL when both are present.
	Endpoint string `json:"endpoint" msgpack:"endpoint"`
	// Records is the input record set.
	Records pipeflow.RecordSet `json:"records" msgpack:"records"`
}

// Reply is the wire form of a successful dispatch response.
type Reply struct {
	// Records is the record set produced by the endpoint.
	Records pipeflow.RecordSet `json:"records" msgpack:"records"`
}

// Config configures dispatch callers.
type Config struct {
	// Format selects the wire encoding used for remote calls. The
	// zero value is pipeflow.FmtJSON.
	Format pipeflow.Format

	// Timeout bounds each remote call. Zero means no timeout.
	Timeout time.Duration

	// Store, when non-nil, stores inline values larger than
	// InlineMax before encoding, shipping their signatures in their
	// stead, and resolves references shipped the other way.
	Store pipeflow.Store

	// InlineMax is the largest inline value shipped on the wire when
	// Store is set. Zero disables offloading.
	InlineMax int64

	// HTTPClient issues remote calls. If nil, http.DefaultClient is
	// used.
	HTTPClient *http.Client

	// Log receives transport diagnostics.
	Log *log.Logger
}

// Encode writes v to w in format f. Encoding failures carry kind
// errors.Serialization.
func Encode(w io.Writer, f pipeflow.Format, v interface{}) error {
	switch f {
	case pipeflow.FmtJSON:
		if err := json.NewEncoder(w).Encode(v); err != nil {
			return errors.E("encode", errors.Serialization, err)
		}
	case pipeflow.FmtBinary:
		if err := msgpack.NewEncoder(w).Encode(v); err != nil {
			return errors.E("encode", errors.Serialization, err)
		}
	default:
		return errors.E("encode", errors.NotSupported, errors.Errorf("unknown format %d", int(f)))
	}
	return nil
}

// Decode reads v from r in format f. Malformed input carries kind
// errors.Serialization.
func Decode(r io.Reader, f pipeflow.Format, v interface{}) error {
	switch f {
	case pipeflow.FmtJSON:
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return errors.E("decode", errors.Serialization, err)
		}
	case pipeflow.FmtBinary:
		if err := msgpack.NewDecoder(r).Decode(v); err != nil {
			return errors.E("decode", errors.Serialization, err)
		}
	default:
		return errors.E("decode", errors.NotSupported, errors.Errorf("unknown format %d", int(f)))
	}
	return nil
}

var (
	mu       sync.Mutex
	diallers = map[string]func(u *url.URL, config Config) (pipeflow.Caller, error){}
)

// RegisterScheme associates a dialler with a URL scheme.
func RegisterScheme(scheme string, dial func(u *url.URL, config Config) (pipeflow.Caller, error)) {
	mu.Lock()
	diallers[scheme] = dial
	mu.Unlock()
}

// UnregisterScheme is used for testing.
func UnregisterScheme(scheme string) {
	mu.Lock()
	delete(diallers, scheme)
	mu.Unlock()
}

// Dial returns a caller dispatching to the executor endpoints served
// under the base URL rawurl. The dialler is selected by the URL's
// scheme; an errors.NotSupported is returned when no dialler is
// registered for it.
func Dial(rawurl string, config Config) (pipeflow.Caller, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.E("dial", rawurl, errors.Invalid, err)
	}
	mu.Lock()
	dial := diallers[u.Scheme]
	mu.Unlock()
	if dial == nil {
		return nil, errors.E("dial", rawurl, errors.NotSupported,
			errors.Errorf("no dialler for scheme %s", u.Scheme))
	}
	return dial(u, config)
}
