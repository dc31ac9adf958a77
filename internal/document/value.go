// Package document models loosely typed JSON payloads as an ordered tagged
// union. Object member order and number literals survive a parse/encode round
// trip, which keeps flattened export cells faithful to what the source sent.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind identifies the JSON type held by a Value.
type Kind int

// Supported value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Member is one key/value pair of an object, kept in document order.
type Member struct {
	Key   string
	Value Value
}

// Value is a parsed JSON value. The zero Value is JSON null.
type Value struct {
	kind    Kind
	text    string // string contents or the number literal
	boolean bool
	items   []Value
	members []Member
}

// ErrTrailingData reports bytes left over after the first JSON value.
var ErrTrailingData = errors.New("trailing data after JSON value")

// Parse decodes exactly one JSON value from data.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("parse json: %w", ErrTrailingData)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err //nolint:wrapcheck // wrapped once by Parse
	}
	switch t := tok.(type) {
	case nil:
		return Value{kind: KindNull}, nil
	case bool:
		return Value{kind: KindBool, boolean: t}, nil
	case json.Number:
		return Value{kind: KindNumber, text: t.String()}, nil
	case string:
		return Value{kind: KindString, text: t}, nil
	case json.Delim:
		switch t {
		case '[':
			return decodeArray(dec)
		case '{':
			return decodeObject(dec)
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func decodeArray(dec *json.Decoder) (Value, error) {
	v := Value{kind: KindArray, items: []Value{}}
	for dec.More() {
		item, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		v.items = append(v.items, item)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err //nolint:wrapcheck // wrapped once by Parse
	}
	return v, nil
}

func decodeObject(dec *json.Decoder) (Value, error) {
	v := Value{kind: KindObject, members: []Member{}}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err //nolint:wrapcheck // wrapped once by Parse
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key must be a string, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		// Duplicate keys keep their first position and the last value.
		if i, seen := index[key]; seen {
			v.members[i].Value = val
			continue
		}
		index[key] = len(v.members)
		v.members = append(v.members, Member{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err //nolint:wrapcheck // wrapped once by Parse
	}
	return v, nil
}

// String builds a string Value.
func String(s string) Value {
	return Value{kind: KindString, text: s}
}

// Kind reports the JSON type of v.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNested reports whether v is an object or an array.
func (v Value) IsNested() bool {
	return v.kind == KindObject || v.kind == KindArray
}

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Len returns the number of array items or object members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Items returns the array elements of v, or nil when v is not an array.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Members returns the object members of v in document order.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Field returns the named member of an object.
func (v Value) Field(name string) (Value, bool) {
	for _, m := range v.Members() {
		if m.Key == name {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether an object carries the named member, whatever its value.
func (v Value) Has(name string) bool {
	_, ok := v.Field(name)
	return ok
}

// Index returns the i-th element of an array.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Lookup walks a dotted path such as "productInfo.categories.0.name". Numeric
// segments index arrays; every other segment selects an object member.
func (v Value) Lookup(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		var ok bool
		switch cur.kind {
		case KindArray:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}, false
			}
			cur, ok = cur.Index(i)
		case KindObject:
			cur, ok = cur.Field(seg)
		default:
			return Value{}, false
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// Str returns the contents of a string Value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// Text renders v as a single cell value. Strings are returned verbatim,
// numbers keep their source literal, booleans render as True/False, null is
// empty and nested values become compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.text
	case KindBool:
		if v.boolean {
			return "True"
		}
		return "False"
	case KindArray, KindObject:
		return v.Compact()
	default:
		return ""
	}
}

// Compact encodes v as single-line JSON without insignificant whitespace.
// Non-ASCII text is written literally and HTML characters are not escaped.
func (v Value) Compact() string {
	var buf bytes.Buffer
	v.encode(&buf)
	return strings.NewReplacer("\n", "", "\r", "").Replace(buf.String())
}

// MarshalJSON implements json.Marshaler using the compact encoding.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.Compact()), nil
}

func (v Value) encode(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		writeQuoted(buf, v.text)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.encode(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeQuoted(buf, m.Key)
			buf.WriteByte(':')
			m.Value.encode(buf)
		}
		buf.WriteByte('}')
	}
}

func writeQuoted(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encoding a plain string cannot fail.
	_ = enc.Encode(s)
	// Encoder terminates every value with a newline.
	out := tmp.Bytes()[:tmp.Len()-1]
	if !strings.ContainsRune(s, '\u2028') && !strings.ContainsRune(s, '\u2029') {
		buf.Write(out)
		return
	}
	// Line and paragraph separators are valid inside JSON strings; keep them
	// literal like every other non-ASCII rune.
	for i := 0; i < len(out); i++ {
		if out[i] != '\\' || i+1 >= len(out) {
			buf.WriteByte(out[i])
			continue
		}
		if seq := string(out[i+1 : min(i+6, len(out))]); seq == "u2028" || seq == "u2029" {
			if seq == "u2028" {
				buf.WriteRune('\u2028')
			} else {
				buf.WriteRune('\u2029')
			}
			i += 5
			continue
		}
		// Copy the escape pair whole so an escaped backslash is never
		// mistaken for the start of a separator escape.
		buf.WriteByte(out[i])
		buf.WriteByte(out[i+1])
		i++
	}
}
