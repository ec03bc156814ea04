package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyLength is the length of every key produced by DefaultKeyer.
const KeyLength = sha256.Size * 2

// keySeparator joins the operation name and the canonical parameters.
// Canonical JSON escapes NUL, and operation names may not contain it.
const keySeparator = "\x00"

// Keyer derives deterministic cache keys from call signatures.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key derives a cache key from an operation name and its parameters.
	Key(operation string, params map[string]any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns hex(SHA-256(operation + NUL + canonicalJSON(params))), a
// KeyLength-character lowercase string safe to use as a file name.
// A nil params map is treated as empty.
func (k *DefaultKeyer) Key(operation string, params map[string]any) (string, error) {
	if strings.TrimSpace(operation) == "" {
		return "", fmt.Errorf("%w: operation name is empty", ErrInvalidParameter)
	}
	if strings.Contains(operation, keySeparator) {
		return "", fmt.Errorf("%w: operation name contains NUL", ErrInvalidParameter)
	}

	canonical, err := canonicalizeMap(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte(keySeparator))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeriveKey derives a key with the default keyer.
func DeriveKey(operation string, params map[string]any) (string, error) {
	return NewDefaultKeyer().Key(operation, params)
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// encoding/json already sorts keys of other map types.
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

var _ Keyer = (*DefaultKeyer)(nil)
