package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func BenchmarkDeriveKey(b *testing.B) {
	params := map[string]any{
		"ts_code":    "000001.SZ",
		"start_date": "20240101",
		"end_date":   "20241231",
		"fields":     []any{"open", "high", "low", "close"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveKey("daily", params)
	}
}

func BenchmarkDiskStore_Get_Hit(b *testing.B) {
	s, err := NewDiskStore(b.TempDir(), time.Hour)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "daily", nil, bytes.Repeat([]byte("row,"), 1024))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Get(ctx, "daily", nil)
	}
}

func BenchmarkDiskStore_Set(b *testing.B) {
	s, err := NewDiskStore(b.TempDir(), time.Hour)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()
	value := []byte("test value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set(ctx, "daily", nil, value)
	}
}

func BenchmarkMemoryStore_Get_Hit(b *testing.B) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()
	s.Set(ctx, "daily", nil, []byte("value"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Get(ctx, "daily", nil)
	}
}
