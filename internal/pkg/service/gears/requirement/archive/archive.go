// Package archive provides the integrity guarded envelope of an installed requirement artifact.
//
// Layout, all integers big-endian:
//
//	magic "GRQA" | version u8 | compression u8 | reserved u16 | rawLen u64 | payloadLen u64 | payload | xxhash64 u64
//
// The payload is a compressed tar of the installed files.
// The checksum covers all preceding bytes, so any strict prefix or modified byte is rejected.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	Version    = 1
	HeaderSize = 24
	TrailerLen = 8
	MinSize    = HeaderSize + TrailerLen
)

const (
	compressionNone byte = 0
	compressionGZIP byte = 1
	compressionZSTD byte = 2
)

const maxRawSize = 4 << 30

var magic = [4]byte{'G', 'R', 'Q', 'A'}

type CorruptError struct {
	Reason string
}

func (e CorruptError) Error() string {
	return "corrupted archive: " + e.Reason
}

type header struct {
	compression byte
	rawLen      uint64
	payloadLen  uint64
}

// Seal compresses the raw tar and wraps it into the envelope.
func Seal(raw []byte, cfg Config) ([]byte, error) {
	code, ok := cfg.Type.code()
	if !ok {
		return nil, errors.Errorf(`unexpected compression type "%s"`, cfg.Type)
	}

	payload, err := compress(code, raw, cfg)
	if err != nil {
		return nil, errors.PrefixError(err, "cannot compress archive")
	}

	out := make([]byte, 0, MinSize+len(payload))
	out = append(out, magic[:]...)
	out = append(out, Version, code, 0, 0)
	out = binary.BigEndian.AppendUint64(out, uint64(len(raw)))
	out = binary.BigEndian.AppendUint64(out, uint64(len(payload)))
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(out))
	return out, nil
}

// Validate checks the envelope structure and checksum without decompressing the payload.
func Validate(b []byte) error {
	_, err := parse(b)
	return err
}

// Open validates the envelope and returns the decompressed tar.
func Open(b []byte) ([]byte, error) {
	h, err := parse(b)
	if err != nil {
		return nil, err
	}

	payload := b[HeaderSize : HeaderSize+int(h.payloadLen)]
	raw, err := decompress(h.compression, payload, h.rawLen)
	if err != nil {
		return nil, CorruptError{Reason: fmt.Sprintf("cannot decompress payload: %s", err)}
	}
	if uint64(len(raw)) != h.rawLen {
		return nil, CorruptError{Reason: fmt.Sprintf("expected %d raw bytes, found %d", h.rawLen, len(raw))}
	}
	return raw, nil
}

// Checksum returns the trailing checksum of a valid envelope.
func Checksum(b []byte) (uint64, error) {
	if _, err := parse(b); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[len(b)-TrailerLen:]), nil
}

func parse(b []byte) (header, error) {
	if len(b) < MinSize {
		return header{}, CorruptError{Reason: fmt.Sprintf("size %d is smaller than minimum %d", len(b), MinSize)}
	}
	if !bytes.Equal(b[0:4], magic[:]) {
		return header{}, CorruptError{Reason: "unexpected magic"}
	}
	if b[4] != Version {
		return header{}, CorruptError{Reason: fmt.Sprintf("unexpected version %d", b[4])}
	}

	h := header{
		compression: b[5],
		rawLen:      binary.BigEndian.Uint64(b[8:16]),
		payloadLen:  binary.BigEndian.Uint64(b[16:24]),
	}
	if h.compression > compressionZSTD {
		return header{}, CorruptError{Reason: fmt.Sprintf("unexpected compression %d", h.compression)}
	}
	if h.rawLen > maxRawSize {
		return header{}, CorruptError{Reason: fmt.Sprintf("raw size %d exceeds limit", h.rawLen)}
	}

	available := uint64(len(b) - MinSize)
	if h.payloadLen != available {
		return header{}, CorruptError{Reason: fmt.Sprintf("expected payload of %d bytes, found %d", h.payloadLen, available)}
	}

	expected := binary.BigEndian.Uint64(b[len(b)-TrailerLen:])
	if actual := xxhash.Sum64(b[:len(b)-TrailerLen]); actual != expected {
		return header{}, CorruptError{Reason: "checksum mismatch"}
	}

	return h, nil
}

func compress(code byte, raw []byte, cfg Config) ([]byte, error) {
	switch code {
	case compressionNone:
		return bytes.Clone(raw), nil
	case compressionGZIP:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, cfg.GZIPLevel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(cfg.ZSTDLevel)), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	}
}

// decompress reads at most rawLen+1 bytes, the buffer grows with the decoded data, not with the declared size.
func decompress(code byte, payload []byte, rawLen uint64) ([]byte, error) {
	var r io.Reader
	switch code {
	case compressionNone:
		r = bytes.NewReader(payload)
	case compressionGZIP:
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	default:
		dec, err := zstd.NewReader(bytes.NewReader(payload), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	// One extra byte detects a payload longer than declared
	return io.ReadAll(io.LimitReader(r, int64(rawLen)+1))
}
