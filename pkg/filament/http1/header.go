package http1

import (
	"github.com/intuitivelabs/bytescase"
)

// Header is a single (name, value) pair. The name keeps its wire form;
// comparisons are case-insensitive.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header container. Insertion order is preserved and
// duplicate names are permitted, matching what arrived on the wire.
//
// Lookup is case-insensitive per RFC 7230; a linear scan is cache-friendly
// and beats a map for the header counts real messages carry.
type Headers struct {
	kvs []Header
}

// nameEq compares header names case-insensitively.
func nameEq(a, b string) bool {
	return bytescase.CmpEq([]byte(a), []byte(b))
}

// Add appends a header, keeping any existing values for the same name.
func (h *Headers) Add(name, value string) {
	h.kvs = append(h.kvs, Header{Name: name, Value: value})
}

// Get returns the first value for name and whether it was present.
func (h *Headers) Get(name string) (string, bool) {
	for i := range h.kvs {
		if nameEq(h.kvs[i].Name, name) {
			return h.kvs[i].Value, true
		}
	}
	return "", false
}

// Values returns every value recorded for name, in insertion order.
func (h *Headers) Values(name string) []string {
	var vals []string
	for i := range h.kvs {
		if nameEq(h.kvs[i].Name, name) {
			vals = append(vals, h.kvs[i].Value)
		}
	}
	return vals
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set replaces every occurrence of name with a single header, or appends it
// if absent. The first occurrence's position is kept.
func (h *Headers) Set(name, value string) {
	out := h.kvs[:0]
	replaced := false
	for _, kv := range h.kvs {
		if nameEq(kv.Name, name) {
			if !replaced {
				out = append(out, Header{Name: kv.Name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, kv)
	}
	h.kvs = out
	if !replaced {
		h.Add(name, value)
	}
}

// Del removes every occurrence of name.
func (h *Headers) Del(name string) {
	out := h.kvs[:0]
	for _, kv := range h.kvs {
		if !nameEq(kv.Name, name) {
			out = append(out, kv)
		}
	}
	h.kvs = out
}

// Len returns the number of stored headers.
func (h *Headers) Len() int {
	return len(h.kvs)
}

// All returns the headers in insertion order. The slice aliases internal
// storage and must not be mutated.
func (h *Headers) All() []Header {
	return h.kvs
}

// Visit calls fn for each header in insertion order until fn returns false.
func (h *Headers) Visit(fn func(name, value string) bool) {
	for i := range h.kvs {
		if !fn(h.kvs[i].Name, h.kvs[i].Value) {
			return
		}
	}
}

// Reset drops all headers but keeps the backing storage for reuse.
func (h *Headers) Reset() {
	h.kvs = h.kvs[:0]
}

// Clone returns a deep copy.
func (h *Headers) Clone() Headers {
	out := make([]Header, len(h.kvs))
	copy(out, h.kvs)
	return Headers{kvs: out}
}

// Equal compares two header sets: same order, names compared
// case-insensitively, values byte-exact.
func (h *Headers) Equal(o *Headers) bool {
	if len(h.kvs) != len(o.kvs) {
		return false
	}
	for i := range h.kvs {
		if !nameEq(h.kvs[i].Name, o.kvs[i].Name) || h.kvs[i].Value != o.kvs[i].Value {
			return false
		}
	}
	return true
}
