package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetValue reads the entry for the signature and JSON-decodes it into T.
// A payload that does not decode into T is deleted and reported as a miss.
func GetValue[T any](ctx context.Context, s Store, operation string, params map[string]any) (T, bool) {
	var zero T

	data, ok := s.Get(ctx, operation, params)
	if !ok {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		s.Delete(ctx, operation, params)
		return zero, false
	}
	return v, true
}

// SetValue JSON-encodes v and stores it for the signature. Only an encoding
// failure is returned; storage failures are absorbed like Store.Set.
func SetValue[T any](ctx context.Context, s Store, operation string, params map[string]any, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrInvalidParameter, err)
	}
	s.Set(ctx, operation, params, data)
	return nil
}
