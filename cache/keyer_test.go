package cache

import (
	"errors"
	"math"
	"testing"
)

func TestKeyer_DeterministicForMaps(t *testing.T) {
	keyer := NewDefaultKeyer()

	// Same content, different insertion order
	map1 := map[string]any{"b": 2, "a": 1, "c": 3}
	map2 := map[string]any{"a": 1, "c": 3, "b": 2}
	map3 := map[string]any{"c": 3, "b": 2, "a": 1}

	key1, err := keyer.Key("daily", map1)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key2, err := keyer.Key("daily", map2)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key3, err := keyer.Key("daily", map3)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	if key1 != key2 || key2 != key3 {
		t.Errorf("Keys should be equal for same content:\n  %s\n  %s\n  %s", key1, key2, key3)
	}
}

func TestKeyer_NestedMaps(t *testing.T) {
	keyer := NewDefaultKeyer()

	nested1 := map[string]any{
		"outer": map[string]any{"z": 26, "a": 1, "m": 13},
		"other": "value",
	}
	nested2 := map[string]any{
		"other": "value",
		"outer": map[string]any{"a": 1, "m": 13, "z": 26},
	}

	key1, err := keyer.Key("daily", nested1)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	key2, err := keyer.Key("daily", nested2)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	if key1 != key2 {
		t.Errorf("Keys should be equal for nested maps with same content:\n  key1=%s\n  key2=%s", key1, key2)
	}
}

func TestKeyer_Distinguishes(t *testing.T) {
	keyer := NewDefaultKeyer()

	tests := []struct {
		name string
		op1  string
		p1   map[string]any
		op2  string
		p2   map[string]any
	}{
		{"different operation", "daily", map[string]any{"sym": "X"}, "weekly", map[string]any{"sym": "X"}},
		{"different value", "daily", map[string]any{"sym": "X"}, "daily", map[string]any{"sym": "Y"}},
		{"different name", "daily", map[string]any{"sym": "X"}, "daily", map[string]any{"code": "X"}},
		{"extra parameter", "daily", map[string]any{"sym": "X"}, "daily", map[string]any{"sym": "X", "adj": "qfq"}},
		{"number vs string", "daily", map[string]any{"n": 1}, "daily", map[string]any{"n": "1"}},
		{"array order", "daily", map[string]any{"f": []any{1, 2}}, "daily", map[string]any{"f": []any{2, 1}}},
		{"separator smuggling", "a", map[string]any{"b": 1}, "a\"", map[string]any{"b": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k1, err := keyer.Key(tt.op1, tt.p1)
			if err != nil {
				t.Fatalf("Key() error = %v", err)
			}
			k2, err := keyer.Key(tt.op2, tt.p2)
			if err != nil {
				t.Fatalf("Key() error = %v", err)
			}
			if k1 == k2 {
				t.Errorf("Keys should differ:\n  key1=%s\n  key2=%s", k1, k2)
			}
		})
	}
}

func TestKeyer_KeyFormat(t *testing.T) {
	key, err := DeriveKey("daily", map[string]any{"ts_code": "000001.SZ"})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}

	if len(key) != KeyLength {
		t.Errorf("Key should be %d characters, got %d: %q", KeyLength, len(key), key)
	}
	for _, c := range key {
		isLowerHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isLowerHex {
			t.Errorf("Key should be lowercase hex, got character %q in %q", string(c), key)
			break
		}
	}
}

func TestKeyer_StableAcrossProcesses(t *testing.T) {
	// SHA-256("daily" + NUL + `{"sym":"X"}`) pins the canonical form.
	const want = "f388e3cbd354d76dd77d36ff00a8fa2dc5aa0f3f337ea1de6aae620f5c47705b"

	got, err := DeriveKey("daily", map[string]any{"sym": "X"})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if got != want {
		t.Errorf("DeriveKey() = %s, want %s", got, want)
	}
}

func TestKeyer_NilAndEmptyParamsMatch(t *testing.T) {
	keyNil, err := DeriveKey("daily", nil)
	if err != nil {
		t.Fatalf("DeriveKey(nil) error = %v", err)
	}
	keyEmpty, err := DeriveKey("daily", map[string]any{})
	if err != nil {
		t.Fatalf("DeriveKey(empty) error = %v", err)
	}
	if keyNil != keyEmpty {
		t.Errorf("nil and empty parameter sets should share a key:\n  %s\n  %s", keyNil, keyEmpty)
	}
}

func TestKeyer_TypedValues(t *testing.T) {
	type window struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}

	k1, err := DeriveKey("daily", map[string]any{"w": window{"20240101", "20240131"}, "tags": map[string]int{"b": 2, "a": 1}})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, err := DeriveKey("daily", map[string]any{"tags": map[string]int{"a": 1, "b": 2}, "w": window{"20240101", "20240131"}})
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if k1 != k2 {
		t.Errorf("typed values should canonicalize identically:\n  %s\n  %s", k1, k2)
	}
}

func TestKeyer_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		params map[string]any
	}{
		{"empty operation", "", nil},
		{"blank operation", "   ", nil},
		{"NUL in operation", "a\x00b", nil},
		{"channel value", "daily", map[string]any{"c": make(chan int)}},
		{"func value", "daily", map[string]any{"f": func() {}}},
		{"NaN value", "daily", map[string]any{"x": math.NaN()}},
		{"nested unsupported", "daily", map[string]any{"n": []any{map[string]any{"c": make(chan int)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKey(tt.op, tt.params)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("DeriveKey() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}
