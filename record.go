// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow/errors"
)

// Kind denotes the payload kind of a Record.
type Kind int

const (
	// KindText denotes a textual payload.
	KindText Kind = 1 + iota
	// KindImage denotes a still image payload.
	KindImage
	// KindAudio denotes an audio payload.
	KindAudio
	// KindVideo denotes a video payload.
	KindVideo
	// KindComposite denotes a record composed of named constituent
	// records.
	KindComposite

	maxKind
)

var kindStrings = [maxKind]string{
	0:             "invalid",
	KindText:      "text",
	KindImage:     "image",
	KindAudio:     "audio",
	KindVideo:     "video",
	KindComposite: "composite",
}

// String returns the wire name of kind k.
func (k Kind) String() string {
	if k <= 0 || k >= maxKind {
		k = 0
	}
	return kindStrings[k]
}

func parseKind(s string) Kind {
	for k := KindText; k < maxKind; k++ {
		if kindStrings[k] == s {
			return k
		}
	}
	return 0
}

// Record represents a single multimodal payload inside of Pipeflow. A
// record is said to be resolved if it contains the digest of the
// record's payload (ID). Otherwise, a Record is said to be a
// reference, in which case it must contain a source URL or an inline
// value from which the payload may be recovered. Composite records
// carry no payload of their own; they aggregate named constituent
// records.
//
// Records are passed by value, and must be treated as immutable once
// handed to an executor: a node that transforms its input produces
// new records instead.
type Record struct {
	// Kind is the record's payload kind.
	Kind Kind

	// Ident is an optional caller-assigned identifier for the record.
	// It is carried across dispatch boundaries but is otherwise
	// uninterpreted.
	Ident string `json:",omitempty"`

	// Source stores a URL for the record's payload from which it may
	// be retrieved.
	Source string `json:",omitempty"`

	// Value stores the record's payload inline. A zero-length value
	// is equivalent to no value.
	Value []byte `json:",omitempty"`

	// ID is the digest of the record's payload. It is set when the
	// record is resolved, and is immutable thereafter: the same payload
	// always carries the same ID.
	ID digest.Digest `json:",omitempty"`

	// Fields maps names to constituent records. Fields is set only for
	// composite records.
	Fields map[string]Record `json:",omitempty"`
}

// Text returns a text record carrying the inline payload s.
func Text(s string) Record { return Record{Kind: KindText, Value: []byte(s)} }

// TextRef returns a text record referencing the payload at rawurl.
func TextRef(rawurl string) Record { return Record{Kind: KindText, Source: rawurl} }

// Image returns an image record carrying the inline payload b.
func Image(b []byte) Record { return Record{Kind: KindImage, Value: b} }

// ImageRef returns an image record referencing the payload at rawurl.
func ImageRef(rawurl string) Record { return Record{Kind: KindImage, Source: rawurl} }

// Audio returns an audio record carrying the inline payload b.
func Audio(b []byte) Record { return Record{Kind: KindAudio, Value: b} }

// AudioRef returns an audio record referencing the payload at rawurl.
func AudioRef(rawurl string) Record { return Record{Kind: KindAudio, Source: rawurl} }

// Video returns a video record carrying the inline payload b.
func Video(b []byte) Record { return Record{Kind: KindVideo, Value: b} }

// VideoRef returns a video record referencing the payload at rawurl.
func VideoRef(rawurl string) Record { return Record{Kind: KindVideo, Source: rawurl} }

// Composite returns a composite record with the given fields.
func Composite(fields map[string]Record) Record {
	return Record{Kind: KindComposite, Fields: fields}
}

// IsRef returns whether this record is a payload reference: its
// payload must be fetched from its source before it can be used.
func (r Record) IsRef() bool {
	return r.Kind != KindComposite && r.ID.IsZero() && len(r.Value) == 0 && r.Source != ""
}

// Resolved returns whether the record's payload signature has been
// computed. Composite records are resolved when all of their fields
// are.
func (r Record) Resolved() bool {
	if r.Kind == KindComposite {
		for _, f := range r.Fields {
			if !f.Resolved() {
				return false
			}
		}
		return true
	}
	return !r.ID.IsZero()
}

// Digest returns the record's digest: resolved records return their
// payload signature (ID); records with inline values return the
// signature their payload will assume once resolved; reference
// records are digested by kind and source; composite records are
// digested over their fields.
func (r Record) Digest() digest.Digest {
	if !r.ID.IsZero() {
		return r.ID
	}
	if r.Kind != KindComposite && len(r.Value) != 0 {
		return Digester.FromBytes(r.Value)
	}
	w := Digester.NewWriter()
	io.WriteString(w, r.Kind.String())
	if r.Kind == KindComposite {
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			io.WriteString(w, name)
			digest.WriteDigest(w, r.Fields[name].Digest())
		}
	} else {
		io.WriteString(w, r.Source)
	}
	return w.Digest()
}

// Equal reports whether records r and s represent the same record.
func (r Record) Equal(s Record) bool {
	if r.Kind != s.Kind || r.Ident != s.Ident || r.Source != s.Source {
		return false
	}
	if !bytes.Equal(r.Value, s.Value) {
		return false
	}
	if r.ID != s.ID {
		return false
	}
	if len(r.Fields) != len(s.Fields) {
		return false
	}
	for name, f := range r.Fields {
		g, ok := s.Fields[name]
		if !ok || !f.Equal(g) {
			return false
		}
	}
	return true
}

// Valid tells whether the record is well formed. Non-composite
// records must carry at least one of a source, an inline value, or a
// payload signature; composite records must have at least one field,
// each of which must in turn be valid.
func (r Record) Valid() error {
	switch r.Kind {
	case KindText, KindImage, KindAudio, KindVideo:
		if r.Source == "" && len(r.Value) == 0 && r.ID.IsZero() {
			return errors.E("record", errors.Invalid, errors.New("no source, value, or signature"))
		}
	case KindComposite:
		if len(r.Fields) == 0 {
			return errors.E("record", errors.Invalid, errors.New("composite record has no fields"))
		}
		for name, f := range r.Fields {
			if err := f.Valid(); err != nil {
				return errors.E("record", "field "+name, err)
			}
		}
	default:
		return errors.E("record", errors.Invalid, errors.Errorf("bad kind %d", int(r.Kind)))
	}
	return nil
}

func (r Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind: %s", r.Kind)
	if r.Ident != "" {
		maybeComma(&b)
		fmt.Fprintf(&b, "ident: %s", r.Ident)
	}
	if !r.ID.IsZero() {
		maybeComma(&b)
		fmt.Fprintf(&b, "id: %s", r.ID)
	}
	if r.Source != "" {
		maybeComma(&b)
		fmt.Fprintf(&b, "source: %s", r.Source)
	}
	if len(r.Value) != 0 {
		maybeComma(&b)
		fmt.Fprintf(&b, "value: %s", data.Size(int64(len(r.Value))))
	}
	if len(r.Fields) > 0 {
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		binds := make([]string, len(names))
		for i, name := range names {
			binds[i] = fmt.Sprintf("%s=<%s>", name, r.Fields[name])
		}
		maybeComma(&b)
		fmt.Fprintf(&b, "fields: obj<%s>", strings.Join(binds, ", "))
	}
	return b.String()
}

// Short returns a short, human-readable string representing the
// record, for use in pretty-printed output where hashes are
// abbreviated.
func (r Record) Short() string {
	switch {
	case !r.ID.IsZero():
		return r.ID.Short()
	case r.Kind == KindComposite:
		return fmt.Sprintf("composite<%d fields>", len(r.Fields))
	case r.Source != "":
		return leftabbrev(r.Source, 40)
	case r.Kind == KindText:
		return fmt.Sprintf("text`%s`", abbrev(trimspace(string(r.Value)), 30))
	default:
		return fmt.Sprintf("%s<%s>", r.Kind, data.Size(int64(len(r.Value))))
	}
}

func maybeComma(b *strings.Builder) {
	if b.Len() > 0 {
		b.WriteString(", ")
	}
}
