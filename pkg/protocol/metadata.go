package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HeaderPrefix is prepended to metadata keys when they travel as HTTP headers.
const HeaderPrefix = "lugma-"

// Pair is a single metadata entry.
type Pair struct {
	Key   string
	Value string
}

// Metadata is an ordered string to string mapping carried alongside a call
// or as a stream's handshake payload.
// A nil *Metadata is valid and empty for all read operations.
type Metadata struct {
	pairs []Pair
}

// NewMetadata creates Metadata from alternating key/value arguments.
// A trailing key without a value is ignored.
func NewMetadata(kv ...string) *Metadata {
	md := &Metadata{}
	for i := 0; i+1 < len(kv); i += 2 {
		md.Set(kv[i], kv[i+1])
	}
	return md
}

// Set sets key to value. Existing keys keep their position.
func (m *Metadata) Set(key, value string) {
	for i := range m.pairs {
		if m.pairs[i].Key == key {
			m.pairs[i].Value = value
			return
		}
	}
	m.pairs = append(m.pairs, Pair{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (m *Metadata) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, p := range m.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Delete removes key if present.
func (m *Metadata) Delete(key string) {
	if m == nil {
		return
	}
	for i, p := range m.pairs {
		if p.Key == key {
			m.pairs = append(m.pairs[:i], m.pairs[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.pairs))
	for i, p := range m.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Range calls fn for each entry in order until fn returns false.
func (m *Metadata) Range(fn func(key, value string) bool) {
	if m == nil {
		return
	}
	for _, p := range m.pairs {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Clone returns a deep copy. Cloning nil yields an empty Metadata.
func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{}
	if m != nil {
		clone.pairs = append([]Pair(nil), m.pairs...)
	}
	return clone
}

// Map returns the entries as an unordered map.
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, m.Len())
	m.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out
}

// MarshalJSON encodes the metadata as a JSON object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m.pairsOrNil() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of strings, preserving document order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	pairs, err := decodePairs(data, true)
	if err != nil {
		return err
	}
	m.pairs = pairs
	return nil
}

func (m *Metadata) pairsOrNil() []Pair {
	if m == nil {
		return nil
	}
	return m.pairs
}

// decodePairs walks a JSON object token by token. When strict is false,
// entries whose value is not a string are skipped instead of failing.
func decodePairs(data []byte, strict bool) ([]Pair, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("protocol: metadata must be a JSON object")
	}

	var pairs []Pair
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			if strict {
				return nil, fmt.Errorf("protocol: metadata value for %q is not a string", key)
			}
			continue
		}

		if i, dup := seen[key]; dup {
			pairs[i].Value = value
			continue
		}
		seen[key] = len(pairs)
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// ApplyHeaders writes each entry to h as "lugma-<key>: <value>".
func (m *Metadata) ApplyHeaders(h http.Header) {
	m.Range(func(k, v string) bool {
		h.Set(HeaderPrefix+k, v)
		return true
	})
}

// MetadataFromHeaders collects "lugma-" prefixed headers into Metadata.
// Keys are lower-cased and sorted, since HTTP header order is not preserved.
func MetadataFromHeaders(h http.Header) *Metadata {
	keys := make([]string, 0)
	values := make(map[string]string)
	for name, vals := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, HeaderPrefix) || len(vals) == 0 {
			continue
		}
		key := strings.TrimPrefix(lower, HeaderPrefix)
		if key == "" {
			continue
		}
		if _, ok := values[key]; !ok {
			keys = append(keys, key)
		}
		values[key] = vals[0]
	}
	sort.Strings(keys)

	md := &Metadata{pairs: make([]Pair, 0, len(keys))}
	for _, k := range keys {
		md.pairs = append(md.pairs, Pair{Key: k, Value: values[k]})
	}
	return md
}
