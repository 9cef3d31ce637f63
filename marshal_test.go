// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/grailbio/pipeflow"
	"github.com/grailbio/pipeflow/errors"
	"github.com/grailbio/pipeflow/test/testutil"
)

var formats = []pipeflow.Format{pipeflow.FmtJSON, pipeflow.FmtBinary}

func TestWriteRead(t *testing.T) {
	const N = 1000
	fuzz := testutil.NewFuzz(nil)
	for _, format := range formats {
		for i := 0; i < N; i++ {
			set := fuzz.RecordSet(i%2 == 0)
			var b bytes.Buffer
			if err := set.Write(&b, format); err != nil {
				t.Fatalf("%v: %v", format, err)
			}
			var got pipeflow.RecordSet
			if err := got.Read(&b, format); err != nil {
				t.Fatalf("%v: %v", format, err)
			}
			if want := set; !got.Equal(want) {
				t.Errorf("%v: got %v, want %v", format, got, want)
			}
		}
	}
}

// Both formats encode the same logical value: a set written in one
// format and a set written in the other must decode to equal sets.
func TestFormatsAgree(t *testing.T) {
	const N = 100
	fuzz := testutil.NewFuzz(nil)
	for i := 0; i < N; i++ {
		set := fuzz.RecordSet(i%2 == 0)
		var (
			jbuf, bbuf bytes.Buffer
			jset, bset pipeflow.RecordSet
		)
		if err := set.Write(&jbuf, pipeflow.FmtJSON); err != nil {
			t.Fatal(err)
		}
		if err := set.Write(&bbuf, pipeflow.FmtBinary); err != nil {
			t.Fatal(err)
		}
		if err := jset.Read(&jbuf, pipeflow.FmtJSON); err != nil {
			t.Fatal(err)
		}
		if err := bset.Read(&bbuf, pipeflow.FmtBinary); err != nil {
			t.Fatal(err)
		}
		if !jset.Equal(bset) {
			t.Errorf("got %v, want %v", bset, jset)
		}
	}
}

func TestWireNames(t *testing.T) {
	set := pipeflow.RecordSet{
		{
			Kind:   pipeflow.KindImage,
			Ident:  "cover",
			Source: "s3://bucket/cover.png",
		},
	}
	set[0].ID = pipeflow.Digester.FromString("payload")
	var b bytes.Buffer
	if err := set.Write(&b, pipeflow.FmtJSON); err != nil {
		t.Fatal(err)
	}
	var wire []map[string]interface{}
	if err := json.Unmarshal(b.Bytes(), &wire); err != nil {
		t.Fatal(err)
	}
	if got, want := len(wire), 1; got != want {
		t.Fatalf("got %v records, want %v", got, want)
	}
	rec := wire[0]
	if got, want := rec["type"], "image"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rec["id"], "cover"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rec["resource_ref"], "s3://bucket/cover.png"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	sig, ok := rec["content_signature"].(string)
	if !ok || !strings.HasPrefix(sig, "sha256:") {
		t.Errorf("bad content_signature %v", rec["content_signature"])
	}
	for _, name := range []string{"inline_value", "fields"} {
		if _, ok := rec[name]; ok {
			t.Errorf("unexpected field %s", name)
		}
	}
}

func TestReadUnknownType(t *testing.T) {
	const body = `[{"type": "blob", "inline_value": "aGk="}]`
	var set pipeflow.RecordSet
	err := set.Read(strings.NewReader(body), pipeflow.FmtJSON)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Serialization, err) {
		t.Errorf("expected Serialization, got %v", err)
	}
}

func TestReadBadSignature(t *testing.T) {
	const body = `[{"type": "text", "content_signature": "md5:zzz"}]`
	var set pipeflow.RecordSet
	err := set.Read(strings.NewReader(body), pipeflow.FmtJSON)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Serialization, err) {
		t.Errorf("expected Serialization, got %v", err)
	}
}

func TestWriteBadKind(t *testing.T) {
	set := pipeflow.RecordSet{{Kind: pipeflow.Kind(42), Value: []byte("x")}}
	err := set.Write(new(bytes.Buffer), pipeflow.FmtJSON)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Serialization, err) {
		t.Errorf("expected Serialization, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	for _, format := range formats {
		if got, want := pipeflow.FormatFromContentType(format.ContentType()), format; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if got, want := pipeflow.FormatFromContentType("text/plain"), pipeflow.FmtJSON; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
