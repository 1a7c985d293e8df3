package changelog

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Fields is a field-name to value snapshot of a subject. Values are limited to
// nil, bool, integers, strings, []string, map[string]bool and nested Fields;
// instants are stored as RFC 3339 strings through TimeValue.
type Fields map[string]any

// TimeValue converts an optional instant into a snapshot value.
func TimeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Has reports whether key is present, even with a nil value.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// String returns the string at key or "".
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool returns the bool at key or false.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Int returns the integer at key or 0.
func (f Fields) Int(key string) int64 {
	switch v := f[key].(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// Time returns the instant at key, or nil when absent or null.
func (f Fields) Time(key string) (*time.Time, error) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("changelog: field %s: expected time string, got %T", key, raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("changelog: field %s: %w", key, err)
	}
	return &t, nil
}

// Strings returns the string list at key.
func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// BoolMap returns the string-keyed bool map at key.
func (f Fields) BoolMap(key string) map[string]bool {
	switch v := f[key].(type) {
	case map[string]bool:
		out := make(map[string]bool, len(v))
		for k, b := range v {
			out[k] = b
		}
		return out
	case map[string]any:
		out := make(map[string]bool, len(v))
		for k, item := range v {
			if b, ok := item.(bool); ok {
				out[k] = b
			}
		}
		return out
	}
	return nil
}

// Codec serializes snapshots with CBOR core deterministic encoding and
// fingerprints them with keyed BLAKE3, so equal snapshots always produce
// equal bytes and equal digests.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
	key [32]byte
}

// NewCodec builds a codec. key seeds the digest; any length is accepted.
func NewCodec(key []byte) (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("changelog: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("changelog: cbor decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec, key: blake3.Sum256(key)}, nil
}

// Encode serializes fields.
func (c *Codec) Encode(fields Fields) ([]byte, error) {
	if fields == nil {
		fields = Fields{}
	}
	data, err := c.enc.Marshal(map[string]any(fields))
	if err != nil {
		return nil, fmt.Errorf("changelog: encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode.
func (c *Codec) Decode(data []byte) (Fields, error) {
	var fields map[string]any
	if err := c.dec.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("changelog: decode snapshot: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return Fields(fields), nil
}

// Digest returns the hex keyed hash of data.
func (c *Codec) Digest(data []byte) string {
	h, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		panic("changelog: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
