// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dispatch_test

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/dispatch"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/test/testutil"
)

var formats = []pipeflow.Format{pipeflow.FmtJSON, pipeflow.FmtBinary}

func TestRoundTrip(t *testing.T) {
	fz := testutil.NewFuzz(nil)
	rs := fz.RecordSet(true)
	for _, format := range formats {
		var b bytes.Buffer
		req := dispatch.Request{Endpoint: "caption", Records: rs}
		if err := dispatch.Encode(&b, format, req); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		var req2 dispatch.Request
		if err := dispatch.Decode(&b, format, &req2); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if got, want := req2.Endpoint, req.Endpoint; got != want {
			t.Errorf("%s: got %v, want %v", format, got, want)
		}
		if !req2.Records.Equal(req.Records) {
			t.Errorf("%s: got %v, want %v", format, req2.Records, req.Records)
		}
	}
}

// TestCrossFormat verifies that the two encodings carry the same
// logical value.
func TestCrossFormat(t *testing.T) {
	fz := testutil.NewFuzz(nil)
	reply := dispatch.Reply{Records: fz.RecordSet(true)}
	decoded := make([]dispatch.Reply, len(formats))
	for i, format := range formats {
		var b bytes.Buffer
		if err := dispatch.Encode(&b, format, reply); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if err := dispatch.Decode(&b, format, &decoded[i]); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
	}
	if !decoded[0].Records.Equal(decoded[1].Records) {
		t.Errorf("got %v, want %v", decoded[1].Records, decoded[0].Records)
	}
}

func TestDecodeError(t *testing.T) {
	var req dispatch.Request
	err := dispatch.Decode(strings.NewReader("the quick brown fox"), pipeflow.FmtJSON, &req)
	if !errors.Is(errors.Serialization, err) {
		t.Errorf("got %v, want Serialization", err)
	}
	err = dispatch.Decode(bytes.NewReader([]byte{0xc1}), pipeflow.FmtBinary, &req)
	if !errors.Is(errors.Serialization, err) {
		t.Errorf("got %v, want Serialization", err)
	}
}

func TestDial(t *testing.T) {
	_, err := dispatch.Dial("gopher://executors/captioner", dispatch.Config{})
	if !errors.Is(errors.NotSupported, err) {
		t.Errorf("got %v, want NotSupported", err)
	}

	var dialed *url.URL
	dispatch.RegisterScheme("testscheme", func(u *url.URL, config dispatch.Config) (pipeflow.Caller, error) {
		dialed = u
		return callerFunc(func(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
			return rs, nil
		}), nil
	})
	defer dispatch.UnregisterScheme("testscheme")
	caller, err := dispatch.Dial("testscheme://host:1234/captioner", dispatch.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := dialed.Host, "host:1234"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	rs := pipeflow.RecordSet{pipeflow.Text("hello")}
	out, err := caller.Call(context.Background(), "caption", rs)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(rs) {
		t.Errorf("got %v, want %v", out, rs)
	}
}

type callerFunc func(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error)

func (f callerFunc) Call(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	return f(ctx, endpoint, rs)
}
