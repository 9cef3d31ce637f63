// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeflow

import (
	"encoding/json"
	"io"

	"github.com/grailbio/pipeflow/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Format identifies a wire encoding for records and record sets. The
// two formats are interchangeable: a record set encoded in one format
// and decoded from the other represents the same set.
type Format int

const (
	// FmtJSON is the textual JSON encoding.
	FmtJSON Format = iota
	// FmtBinary is the compact binary (MessagePack) encoding.
	FmtBinary
)

// String returns the name of format f.
func (f Format) String() string {
	switch f {
	case FmtJSON:
		return "json"
	case FmtBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type that labels format f on HTTP
// exchanges.
func (f Format) ContentType() string {
	switch f {
	case FmtBinary:
		return "application/msgpack"
	default:
		return "application/json"
	}
}

// FormatFromContentType returns the format labeled by the MIME type
// typ, defaulting to FmtJSON for unrecognized types.
func FormatFromContentType(typ string) Format {
	if typ == "application/msgpack" {
		return FmtBinary
	}
	return FmtJSON
}

// wireRecord is the intermediate form through which records pass on
// their way to and from the wire. Both encodings share it, so that a
// record set encoded in one format and decoded from the other
// represents the same set.
type wireRecord struct {
	Type      string                `json:"type" msgpack:"type"`
	Ident     string                `json:"id,omitempty" msgpack:"id,omitempty"`
	Source    string                `json:"resource_ref,omitempty" msgpack:"resource_ref,omitempty"`
	Value     []byte                `json:"inline_value,omitempty" msgpack:"inline_value,omitempty"`
	Signature string                `json:"content_signature,omitempty" msgpack:"content_signature,omitempty"`
	Fields    map[string]wireRecord `json:"fields,omitempty" msgpack:"fields,omitempty"`
}

func (r Record) wire() (wireRecord, error) {
	if r.Kind <= 0 || r.Kind >= maxKind {
		return wireRecord{}, errors.E("marshal", errors.Serialization, errors.Errorf("bad record kind %d", int(r.Kind)))
	}
	w := wireRecord{
		Type:   r.Kind.String(),
		Ident:  r.Ident,
		Source: r.Source,
		Value:  r.Value,
	}
	if !r.ID.IsZero() {
		w.Signature = r.ID.String()
	}
	if len(r.Fields) > 0 {
		w.Fields = make(map[string]wireRecord, len(r.Fields))
		for name, f := range r.Fields {
			fw, err := f.wire()
			if err != nil {
				return wireRecord{}, err
			}
			w.Fields[name] = fw
		}
	}
	return w, nil
}

func fromWire(w wireRecord) (Record, error) {
	kind := parseKind(w.Type)
	if kind == 0 {
		return Record{}, errors.E("unmarshal", errors.Serialization, errors.Errorf("unknown record type %q", w.Type))
	}
	r := Record{
		Kind:   kind,
		Ident:  w.Ident,
		Source: w.Source,
		Value:  w.Value,
	}
	if w.Signature != "" {
		var err error
		r.ID, err = Digester.Parse(w.Signature)
		if err != nil {
			return Record{}, errors.E("unmarshal", errors.Serialization, err)
		}
	}
	if len(w.Fields) > 0 {
		r.Fields = make(map[string]Record, len(w.Fields))
		for name, fw := range w.Fields {
			f, err := fromWire(fw)
			if err != nil {
				return Record{}, err
			}
			r.Fields[name] = f
		}
	}
	return r, nil
}

func (v RecordSet) wires() ([]wireRecord, error) {
	wires := make([]wireRecord, len(v))
	for i := range v {
		var err error
		wires[i], err = v[i].wire()
		if err != nil {
			return nil, err
		}
	}
	return wires, nil
}

func (v *RecordSet) fromWires(wires []wireRecord) error {
	set := make(RecordSet, len(wires))
	for i := range wires {
		var err error
		set[i], err = fromWire(wires[i])
		if err != nil {
			return err
		}
	}
	*v = set
	return nil
}

// Write writes the record set to w in format fmt. Encoding failures
// carry kind errors.Serialization.
func (v RecordSet) Write(w io.Writer, fmt Format) error {
	wires, err := v.wires()
	if err != nil {
		return err
	}
	switch fmt {
	case FmtJSON:
		if err := json.NewEncoder(w).Encode(wires); err != nil {
			return errors.E("marshal", errors.Serialization, err)
		}
	case FmtBinary:
		if err := msgpack.NewEncoder(w).Encode(wires); err != nil {
			return errors.E("marshal", errors.Serialization, err)
		}
	default:
		return errors.E("marshal", errors.NotSupported, errors.Errorf("unknown format %d", int(fmt)))
	}
	return nil
}

// Read reads a record set in format fmt from r, replacing v.
// Malformed input carries kind errors.Serialization.
func (v *RecordSet) Read(r io.Reader, fmt Format) error {
	var wires []wireRecord
	switch fmt {
	case FmtJSON:
		if err := json.NewDecoder(r).Decode(&wires); err != nil {
			return errors.E("unmarshal", errors.Serialization, err)
		}
	case FmtBinary:
		if err := msgpack.NewDecoder(r).Decode(&wires); err != nil {
			return errors.E("unmarshal", errors.Serialization, err)
		}
	default:
		return errors.E("unmarshal", errors.NotSupported, errors.Errorf("unknown format %d", int(fmt)))
	}
	return v.fromWires(wires)
}

// MarshalJSON implements json.Marshaler so that record sets may be
// embedded in JSON messages, encoded identically to FmtJSON.
func (v RecordSet) MarshalJSON() ([]byte, error) {
	wires, err := v.wires()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wires)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *RecordSet) UnmarshalJSON(b []byte) error {
	var wires []wireRecord
	if err := json.Unmarshal(b, &wires); err != nil {
		return errors.E("unmarshal", errors.Serialization, err)
	}
	return v.fromWires(wires)
}

// EncodeMsgpack implements msgpack.CustomEncoder so that record sets
// may be embedded in binary messages, encoded identically to
// FmtBinary.
func (v RecordSet) EncodeMsgpack(enc *msgpack.Encoder) error {
	wires, err := v.wires()
	if err != nil {
		return err
	}
	return enc.Encode(wires)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (v *RecordSet) DecodeMsgpack(dec *msgpack.Decoder) error {
	var wires []wireRecord
	if err := dec.Decode(&wires); err != nil {
		return errors.E("unmarshal", errors.Serialization, err)
	}
	return v.fromWires(wires)
}
