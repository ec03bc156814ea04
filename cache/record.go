package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// On-disk record layout:
//
//	magic    [4]byte  "FCE1"
//	flags    uint8    bit 0: body is zstd-compressed
//	created  int64    creation time, unix nanoseconds, big-endian
//	checksum uint64   xxhash64 of body, big-endian
//	body     []byte
const (
	recordMagic      = "FCE1"
	recordHeaderSize = 4 + 1 + 8 + 8

	flagCompressed uint8 = 1 << 0
)

// DefaultCompressAbove is the payload size above which DiskStore tries zstd.
const DefaultCompressAbove = 1024

// maxDecodedSize bounds the memory a single compressed body may inflate to.
// Larger bodies are treated as corrupt.
const maxDecodedSize = 256 << 20

type recordHeader struct {
	flags    uint8
	created  time.Time
	checksum uint64
}

// codec encodes and decodes records. zstd encoders and decoders are safe for
// concurrent EncodeAll/DecodeAll calls.
type codec struct {
	compressAbove int // < 0 disables compression
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

func newCodec(compressAbove int, maxDecoded uint64) (*codec, error) {
	c := &codec{compressAbove: compressAbove}

	var err error
	c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return c, nil
}

func (c *codec) close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

func (c *codec) encode(payload []byte, created time.Time) []byte {
	body := payload
	var flags uint8
	if c.compressAbove >= 0 && len(payload) > c.compressAbove {
		// Only keep compression if it actually reduces size
		if compressed := c.encoder.EncodeAll(payload, nil); len(compressed) < len(payload) {
			body = compressed
			flags |= flagCompressed
		}
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(body))
	copy(buf, recordMagic)
	buf[4] = flags
	binary.BigEndian.PutUint64(buf[5:13], uint64(created.UnixNano()))
	binary.BigEndian.PutUint64(buf[13:21], xxhash.Sum64(body))
	return append(buf, body...)
}

func (c *codec) decode(data []byte) (recordHeader, []byte, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return hdr, nil, err
	}

	body := data[recordHeaderSize:]
	if xxhash.Sum64(body) != hdr.checksum {
		return hdr, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptEntry)
	}

	if hdr.flags&flagCompressed == 0 {
		return hdr, body, nil
	}

	payload, err := c.decoder.DecodeAll(body, nil)
	if err != nil {
		return hdr, nil, fmt.Errorf("%w: decompress: %v", ErrCorruptEntry, err)
	}
	return hdr, payload, nil
}

func parseHeader(data []byte) (recordHeader, error) {
	var hdr recordHeader
	if len(data) < recordHeaderSize {
		return hdr, fmt.Errorf("%w: truncated header", ErrCorruptEntry)
	}
	if !bytes.Equal(data[:4], []byte(recordMagic)) {
		return hdr, fmt.Errorf("%w: bad magic", ErrCorruptEntry)
	}

	hdr.flags = data[4]
	hdr.created = time.Unix(0, int64(binary.BigEndian.Uint64(data[5:13])))
	hdr.checksum = binary.BigEndian.Uint64(data[13:21])
	return hdr, nil
}

// readHeader reads only the fixed-size header from r.
func readHeader(r io.Reader) (recordHeader, error) {
	buf := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return recordHeader{}, fmt.Errorf("%w: truncated header", ErrCorruptEntry)
		}
		return recordHeader{}, err
	}
	return parseHeader(buf)
}
