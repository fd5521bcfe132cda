// Package canonhash computes canonical content hashes of execution payloads.
//
// Two structurally equal payloads must hash identically regardless of map
// insertion order or of which unordered collection produced them, so the
// payload is normalized into a canonical form before digesting:
//   - map keys are serialized in lexicographic order
//   - list order is preserved (semantic order matters for lists)
//   - Unordered collections are sorted by their canonical encoding
//   - timestamps are rendered as RFC 3339 UTC strings
//   - arbitrary-precision numbers are rendered as fixed decimal strings
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// Unordered marks a collection whose element order carries no meaning.
// Elements are sorted by canonical encoding before hashing.
type Unordered []any

// Hash returns the hex-encoded SHA-256 digest of the canonical JSON
// serialization of payload.
func Hash(payload map[string]any) (string, error) {
	norm, err := normalize(payload)
	if err != nil {
		return "", err
	}
	// encoding/json writes map keys in sorted order, which together with
	// normalize() yields a canonical byte stream.
	raw, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("canonhash: marshal normalized payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SortedStrings returns a sorted, deduplicated copy of ids. Useful for
// hashing identifier sets whose source ordering is incidental.
func SortedStrings(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int, int32, int64, float32, float64:
		return t, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		// Fixed canonical form: shortest decimal that round-trips.
		f, err := t.Float64()
		if err != nil {
			return t.String(), nil
		}
		return f, nil
	case *big.Float:
		return t.Text('g', -1), nil
	case *big.Int:
		return t.String(), nil
	case Unordered:
		return normalizeUnordered(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			nv, err := normalize(m)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		// Unknown types round-trip through JSON into maps/slices/numbers.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("canonhash: unsupported value %T: %w", v, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("canonhash: decode %T: %w", v, err)
		}
		return normalize(generic)
	}
}

func normalizeUnordered(items Unordered) (any, error) {
	type encoded struct {
		key  string
		norm any
	}
	encs := make([]encoded, 0, len(items))
	for _, item := range items {
		nv, err := normalize(item)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(nv)
		if err != nil {
			return nil, fmt.Errorf("canonhash: marshal unordered item: %w", err)
		}
		encs = append(encs, encoded{key: string(raw), norm: nv})
	}
	sort.Slice(encs, func(i, j int) bool { return encs[i].key < encs[j].key })
	out := make([]any, len(encs))
	for i, e := range encs {
		out[i] = e.norm
	}
	return out, nil
}
