// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
)

// RecordSet is an ordered collection of records, and is the unit of
// exchange between nodes in a flow. Record sets may contain duplicate
// records. A record set handed to a dispatch call is owned by that
// call: the caller must not retain or mutate it afterwards.
type RecordSet []Record

// N returns the number of records (not necessarily unique) in the set.
func (v RecordSet) N() int { return len(v) }

// Size returns the total inline payload size of the set.
func (v RecordSet) Size() int64 {
	var s int64
	for i := range v {
		s += v[i].size()
	}
	return s
}

func (r Record) size() int64 {
	s := int64(len(r.Value))
	for _, f := range r.Fields {
		s += f.size()
	}
	return s
}

// Equal reports whether v is equal to w: the sets have the same
// number of records and the records are pairwise equal, in order.
func (v RecordSet) Equal(w RecordSet) bool {
	if len(v) != len(w) {
		return false
	}
	for i := range v {
		if !v[i].Equal(w[i]) {
			return false
		}
	}
	return true
}

// Valid tells whether every record in the set is well formed.
func (v RecordSet) Valid() error {
	for i := range v {
		if err := v[i].Valid(); err != nil {
			return err
		}
	}
	return nil
}

// Signatures returns the payload signatures of the set's resolved
// records (including those of composite fields), deduplicated, in
// record order.
func (v RecordSet) Signatures() []digest.Digest {
	var (
		ids  []digest.Digest
		seen = map[digest.Digest]bool{}
	)
	for i := range v {
		ids = v[i].signatures(ids, seen)
	}
	return ids
}

func (r Record) signatures(ids []digest.Digest, seen map[digest.Digest]bool) []digest.Digest {
	if !r.ID.IsZero() && !seen[r.ID] {
		seen[r.ID] = true
		ids = append(ids, r.ID)
	}
	for _, f := range r.Fields {
		ids = f.signatures(ids, seen)
	}
	return ids
}

// Digest returns a digest representing the record set. Digests
// preserve semantics: two sets with the same digest are considered to
// be equivalent.
func (v RecordSet) Digest() digest.Digest {
	w := Digester.NewWriter()
	v.WriteDigest(w)
	return w.Digest()
}

// WriteDigest writes the digestible material for v to w. The
// io.Writer is assumed to be produced by a Digester, and hence
// infallible. Errors are not checked.
func (v RecordSet) WriteDigest(w io.Writer) {
	for i := range v {
		digest.WriteDigest(w, v[i].Digest())
	}
}

// Short returns a short, human-readable string representing the
// record set: the first member, followed by ellipsis, and the set's
// total inline size. For example:
//	set<image<2.0KiB>, ...3.1KiB>
func (v RecordSet) Short() string {
	s := "set<"
	if len(v) != 0 {
		s += v[0].Short()
		if len(v) > 1 {
			s += ", ..."
		} else {
			s += " "
		}
	}
	s += data.Size(v.Size()).String() + ">"
	return s
}

// String returns a full, human-readable string representing the
// record set. Unlike Short, String is fully descriptive: it contains
// full digests and lists every record.
func (v RecordSet) String() string {
	if len(v) == 0 {
		return "void"
	}
	vals := make([]string, len(v))
	for i := range v {
		vals[i] = v[i].String()
	}
	return fmt.Sprintf("set<%s>", strings.Join(vals, ", "))
}
