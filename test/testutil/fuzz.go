// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/pipeflow"
)

// Fuzz provides a simple deterministic fuzzer for Pipeflow
// data types.
type Fuzz struct{ *rand.Rand }

// NewFuzz returns a new fuzzer based on the provided
// random number generator. If r is nil, NewFuzz creates
// one with a fixed seed.
func NewFuzz(r *rand.Rand) *Fuzz {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Fuzz{r}
}

var words = []string{
	"prompt", "caption", "frame", "scene", "voice", "chorus", "tile",
	"pixel", "token", "reel", "still", "sample", "clip", "track",
	"grain", "stanza", "sprite", "waveform",
}

// StringMinLen returns a random string comprising words of at least
// minlen length separated by the provided separator.
func (f *Fuzz) StringMinLen(minlen int, sep string) string {
	var b strings.Builder
	for b.Len() < minlen {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(words[f.Intn(len(words))])
	}
	return b.String()
}

// String returns a random string comprising words separated by the
// provided separator.
func (f *Fuzz) String(sep string) string {
	return f.StringMinLen(f.Intn(20)+1, sep)
}

// Digest returns a random Pipeflow digest.
func (f *Fuzz) Digest() digest.Digest {
	return pipeflow.Digester.Rand(f.Rand)
}

var payloadKinds = []pipeflow.Kind{
	pipeflow.KindText,
	pipeflow.KindImage,
	pipeflow.KindAudio,
	pipeflow.KindVideo,
}

// Record returns a random non-composite record. If refok is true,
// then the returned record may be a reference record or a record
// resolved to a bare signature; otherwise the record carries an
// inline payload.
func (f *Fuzz) Record(refok bool) pipeflow.Record {
	r := pipeflow.Record{Kind: payloadKinds[f.Intn(len(payloadKinds))]}
	if f.Intn(2) == 0 {
		r.Ident = f.String("-")
	}
	if refok {
		switch f.Intn(3) {
		case 0:
			r.Source = fmt.Sprintf("s3://%s/%s", f.String(""), f.String("/"))
			return r
		case 1:
			r.ID = f.Digest()
			return r
		}
	}
	b := make([]byte, f.Intn(64)+1)
	f.Read(b)
	r.Value = b
	if f.Intn(2) == 0 {
		r.ID = pipeflow.Digester.FromBytes(b)
	}
	return r
}

// RecordSet returns a random record set of up to 10 records,
// possibly including composite records. If refok is true, then the
// returned set may contain reference records.
func (f *Fuzz) RecordSet(refok bool) pipeflow.RecordSet {
	return f.RecordSetDeep(f.Intn(10)+1, 2, refok)
}

// RecordSetDeep returns a random record set of n records whose
// composite records nest at most maxdepth deep.
func (f *Fuzz) RecordSetDeep(n, maxdepth int, refok bool) pipeflow.RecordSet {
	set := make(pipeflow.RecordSet, n)
	for i := range set {
		set[i] = f.record(0, maxdepth, refok)
	}
	return set
}

func (f *Fuzz) record(depth, maxdepth int, refok bool) pipeflow.Record {
	if depth < maxdepth && f.Float64() < math.Pow(0.5, float64(depth+1)) {
		fields := make(map[string]pipeflow.Record)
		for n := f.Intn(3) + 1; n > 0; n-- {
			fields[f.String("-")] = f.record(depth+1, maxdepth, refok)
		}
		return pipeflow.Composite(fields)
	}
	return f.Record(refok)
}
