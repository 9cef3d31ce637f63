// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow_test

import (
	"context"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
)

func echo(_ context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	return rs, nil
}

func TestExecutorRegister(t *testing.T) {
	x := pipeflow.NewExecutor("captioner")
	if err := x.Register("caption", echo); err != nil {
		t.Fatal(err)
	}
	err := x.Register("caption", echo)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Exists, err) {
		t.Errorf("expected Exists, got %v", err)
	}
	if err := x.Register("upscale", nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	if err := x.Register("upscale", echo); err != nil {
		t.Fatal(err)
	}
	if got, want := x.Endpoints(), []string{"caption", "upscale"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExecutorResolve(t *testing.T) {
	x := pipeflow.NewExecutor("captioner")
	if err := x.Register("caption", echo); err != nil {
		t.Fatal(err)
	}
	h, err := x.Resolve("caption")
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		t.Fatal("nil handler")
	}
	_, err = x.Resolve("upscale")
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
}

type callerFunc func(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error)

func (f callerFunc) Call(ctx context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
	return f(ctx, endpoint, rs)
}

func TestClientExecutor(t *testing.T) {
	u, err := url.Parse("http://example.com:8080/captioner")
	if err != nil {
		t.Fatal(err)
	}
	var calls []string
	caller := callerFunc(func(_ context.Context, endpoint string, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		calls = append(calls, endpoint)
		return rs, nil
	})
	x := pipeflow.NewClientExecutor("captioner", u, caller)
	if !x.Remote() {
		t.Error("expected remote")
	}
	if err := x.Register("caption", echo); !errors.Is(errors.NotSupported, err) {
		t.Errorf("expected NotSupported, got %v", err)
	}
	// Remote-client executors never resolve endpoints locally.
	if _, err := x.Resolve("caption"); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
	set := pipeflow.RecordSet{pipeflow.Text("hi")}
	out, err := x.Post(context.Background(), "caption", set)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Equal(set) {
		t.Errorf("got %v, want %v", out, set)
	}
	if got, want := calls, []string{"caption"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExecutorPost(t *testing.T) {
	x := pipeflow.NewExecutor("texter")
	err := x.Register("upper", func(_ context.Context, rs pipeflow.RecordSet) (pipeflow.RecordSet, error) {
		out := make(pipeflow.RecordSet, 0, len(rs))
		for _, r := range rs {
			out = append(out, pipeflow.Text(strings.ToUpper(string(r.Value))))
		}
		return out, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := x.Post(context.Background(), "upper", pipeflow.RecordSet{pipeflow.Text("hello")})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out, (pipeflow.RecordSet{pipeflow.Text("HELLO")}); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := x.Post(context.Background(), "lower", nil); !errors.Is(errors.NotExist, err) {
		t.Errorf("expected NotExist, got %v", err)
	}
}
