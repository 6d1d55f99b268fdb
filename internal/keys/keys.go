// Package keys maps local person and item identifiers to keys that are legal
// in the document store namespace.
//
// Sanitization is lossy: two keys that differ only in disallowed characters
// collide. It is applied to outbound documents only; canonical in-memory keys
// are never rewritten. A Table remembers the originals it has seen so inbound
// documents can be mapped back.
package keys

import (
	"strings"
	"sync"

	"packlist/internal/model"
)

// Disallowed lists the characters the document store rejects in keys.
const Disallowed = ".$#[]/"

var replacer = strings.NewReplacer(
	".", "_",
	"$", "_",
	"#", "_",
	"[", "_",
	"]", "_",
	"/", "_",
)

// Sanitize replaces every disallowed character with an underscore.
func Sanitize(key string) string {
	if !strings.ContainsAny(key, Disallowed) {
		return key
	}
	return replacer.Replace(key)
}

// Valid reports whether key can be stored without sanitizing.
func Valid(key string) bool {
	return key != "" && !strings.ContainsAny(key, Disallowed)
}

// Table remembers sanitized -> original for every key it sanitized.
type Table struct {
	mu       sync.Mutex
	original map[string]string
}

func NewTable() *Table {
	return &Table{original: map[string]string{}}
}

// Sanitize sanitizes key and records the original. When two originals
// collide, the first one seen keeps the mapping.
func (t *Table) Sanitize(key string) string {
	s := Sanitize(key)
	if s == key {
		return s
	}
	t.mu.Lock()
	if _, ok := t.original[s]; !ok {
		t.original[s] = key
	}
	t.mu.Unlock()
	return s
}

// Restore maps an inbound key back to the local original. Unknown keys pass
// through unchanged.
func (t *Table) Restore(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.original[key]; ok {
		return o
	}
	return key
}

// Learn records originals without producing output, e.g. for keys loaded from
// a local backup before anything has been sent.
func (t *Table) Learn(keys ...string) {
	for _, k := range keys {
		_ = t.Sanitize(k)
	}
}

// SanitizeChecked returns a copy of m with both levels of keys sanitized.
func (t *Table) SanitizeChecked(m model.CheckedMap) model.CheckedMap {
	out := make(model.CheckedMap, len(m))
	for person, bucket := range m {
		sp := t.Sanitize(person)
		dst, ok := out[sp]
		if !ok {
			dst = map[string]bool{}
			out[sp] = dst
		}
		for id, v := range bucket {
			if v {
				dst[t.Sanitize(id)] = true
			}
		}
	}
	return out
}

// RestoreChecked is the inverse of SanitizeChecked for keys this table knows.
func (t *Table) RestoreChecked(m model.CheckedMap) model.CheckedMap {
	out := make(model.CheckedMap, len(m))
	for person, bucket := range m {
		rp := t.Restore(person)
		dst, ok := out[rp]
		if !ok {
			dst = map[string]bool{}
			out[rp] = dst
		}
		for id, v := range bucket {
			if v {
				dst[t.Restore(id)] = true
			}
		}
	}
	return out
}
