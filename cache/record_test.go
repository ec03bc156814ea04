package cache

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestCodec_DecodeBoundsMemory(t *testing.T) {
	c, err := newCodec(0, 64<<10)
	if err != nil {
		t.Fatalf("newCodec() error = %v", err)
	}
	defer c.close()
	created := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	small := bytes.Repeat([]byte("9.39,"), 1000)
	_, got, err := c.decode(c.encode(small, created))
	if err != nil || !bytes.Equal(got, small) {
		t.Fatalf("decode(small) = %d bytes, %v; want round-trip", len(got), err)
	}

	// Zeros compress to a tiny body that claims a large decoded size.
	bomb := c.encode(make([]byte, 1<<20), created)
	if bomb[4]&flagCompressed == 0 {
		t.Fatal("large payload should have been compressed")
	}
	if _, _, err := c.decode(bomb); !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("decode(oversized) error = %v, want ErrCorruptEntry", err)
	}
}
