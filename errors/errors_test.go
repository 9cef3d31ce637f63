// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
)

func roundtripJSON(in interface{}, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func TestMarshalKind(t *testing.T) {
	for k := Other; k < maxKind; k++ {
		var (
			e1 = E("op", "arg", k)
			e2 = new(Error)
		)
		if err := roundtripJSON(e1, e2); err != nil {
			t.Error(err)
			continue
		}
		if !Match(e1, e2) {
			t.Errorf("%v does not match %v", e1, e2)
		}
	}
}

func TestMarshalChain(t *testing.T) {
	var (
		e1 = E("call", Remote, E("resolve", NotExist))
		e2 = new(Error)
	)
	if err := roundtripJSON(e1, e2); err != nil {
		t.Fatal(err)
	}
	if !Match(e1, e2) {
		t.Errorf("%v does not match %v", e1, e2)
	}
}

func TestMarshalOrdinary(t *testing.T) {
	var (
		underlying = New(`ordinary error /&#@$%"hello"`)
		e1         = E("op1", underlying)
		e2         = new(Error)
	)
	if err := roundtripJSON(e1, e2); err != nil {
		t.Fatal(err)
	}
	if !Match(e1, e2) {
		t.Errorf("%v does not match %v", e1, e2)
	}
}

func TestE(t *testing.T) {
	e := E("fetch", context.DeadlineExceeded)
	if got, want := e, E("fetch", Timeout); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Collapse errors
	e = E("fetch", Timeout, E("lookup", Timeout))
	if got, want := e, E("fetch", Timeout, E("lookup")); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestError(t *testing.T) {
	e := E("open", "x://google.com", NotSupported, New(`scheme "x" not recognized`))
	if got, want := e.Error(), `open x://google.com: operation not supported: scheme "x" not recognized`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	e = E("add", "grader", E(Exists))
	if got, want := e.Error(), "add grader: resource already exists"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	e = E("read", "/dev/null", E("open", "/dev/null", NotAllowed, os.ErrPermission))
	if got, want := e.Error(), "read /dev/null: access denied:\n\topen /dev/null: permission denied"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

type isTemporary bool

func (t isTemporary) Error() string   { return "maybe a temporary error" }
func (t isTemporary) Temporary() bool { return bool(t) }

func TestIs(t *testing.T) {
	for kind := Other; kind < maxKind; kind++ {
		if got, want := Is(kind, E(kind)), kind != Other; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	for _, temp := range []bool{true, false} {
		if got, want := Is(Temporary, isTemporary(temp)), temp; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if got, want := Is(Unreachable, nil), false; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Is(NotExist, E("stat", Other, E(NotExist))), true; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTransient(t *testing.T) {
	for _, tc := range []struct {
		err       error
		transient bool
	}{
		{New("some error"), false},
		{E(Timeout, "deadline exceeded"), true},
		{E(TooManyTries, "5 tries"), true},
		{E(Unreachable, "connection refused"), true},
		{E(Unavailable, "overloaded"), true},
		{E(Serialization, "bad frame"), false},
		{E(Cycle, "a->b->a"), false},
		{E(Fatal, E(Timeout, "deadline exceeded")), false},
	} {
		if got, want := Transient(tc.err), tc.transient; got != want {
			t.Errorf("Transient(%v): got %v, want %v", tc.err, got, want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	for _, tc := range []struct {
		kind   Kind
		status int
	}{
		{NotExist, http.StatusNotFound},
		{NotAllowed, http.StatusMethodNotAllowed},
		{Exists, http.StatusConflict},
		{Invalid, http.StatusBadRequest},
		{Unavailable, http.StatusServiceUnavailable},
		{Remote, http.StatusInternalServerError},
	} {
		if got, want := Recover(E("op", tc.kind)).HTTPStatus(), tc.status; got != want {
			t.Errorf("kind %v: got %v, want %v", tc.kind, got, want)
		}
	}
}
