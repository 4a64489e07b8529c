// Package codec encodes a registry entry into a portable, integrity guarded bundle and back.
//
// Bundle layout, all integers big-endian:
//
//	magic "GRQX" | version u8 | headerLen u32 | header JSON | archiveLen u64 | archive | xxhash64 u64
//
// The bundle can be split into chunks of any size, the concatenation of the chunks is the bundle.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	BundleVersion = 1
	maxHeaderLen  = 1 << 20
	prefixLen     = 4 + 1 + 4
	trailerLen    = 8
)

var (
	bundleMagic = [4]byte{'G', 'R', 'Q', 'X'}
	json        = jsoniter.ConfigCompatibleWithStandardLibrary
)

type header struct {
	Key         constraint.Key `json:"key"`
	Constraints []string       `json:"constraints"`
	Downloaded  bool           `json:"downloaded"`
	Installed   bool           `json:"installed"`
	CreatedAt   time.Time      `json:"createdAt"`
	OS          string         `json:"os"`
}

// EncodeBundle encodes a downloaded entry.
func EncodeBundle(entry registry.Entry, os string) ([]byte, error) {
	if !entry.Downloaded || len(entry.Archive) == 0 {
		return nil, NotDownloadedError{Key: entry.Key}
	}

	hdr, err := json.Marshal(header{
		Key:         entry.Key,
		Constraints: entry.Constraints.Strings(),
		Downloaded:  entry.Downloaded,
		Installed:   entry.Installed,
		CreatedAt:   entry.CreatedAt,
		OS:          os,
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, prefixLen+len(hdr)+8+len(entry.Archive)+trailerLen)
	out = append(out, bundleMagic[:]...)
	out = append(out, BundleVersion)
	out = binary.BigEndian.AppendUint32(out, uint32(len(hdr)))
	out = append(out, hdr...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(entry.Archive)))
	out = append(out, entry.Archive...)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(out))
	return out, nil
}

// DecodeBundle validates the whole bundle, including the inner archive, and returns the entry.
// Any error is an ImportCorruptError.
func DecodeBundle(b []byte) (registry.Entry, string, error) {
	entry, os, err := decodeBundle(b)
	if err != nil {
		return registry.Entry{}, "", ImportCorruptError{err: err}
	}
	return entry, os, nil
}

func decodeBundle(b []byte) (registry.Entry, string, error) {
	if len(b) < prefixLen+8+trailerLen {
		return registry.Entry{}, "", errors.Errorf("bundle size %d is too small", len(b))
	}
	if !bytes.Equal(b[0:4], bundleMagic[:]) {
		return registry.Entry{}, "", errors.New("unexpected bundle magic")
	}
	if b[4] != BundleVersion {
		return registry.Entry{}, "", errors.Errorf("unexpected bundle version %d", b[4])
	}

	// Length checks
	hdrLen := uint64(binary.BigEndian.Uint32(b[5:9]))
	if hdrLen > maxHeaderLen || prefixLen+hdrLen+8 > uint64(len(b)-trailerLen) {
		return registry.Entry{}, "", errors.Errorf("invalid header length %d", hdrLen)
	}
	archivePos := prefixLen + hdrLen + 8
	archiveLen := binary.BigEndian.Uint64(b[prefixLen+hdrLen : archivePos])
	if expected := archivePos + archiveLen + trailerLen; archiveLen > uint64(len(b)) || expected != uint64(len(b)) {
		return registry.Entry{}, "", errors.Errorf("expected %s, found %d bytes", sizeOf(archivePos, archiveLen), len(b))
	}

	// Checksum
	expected := binary.BigEndian.Uint64(b[len(b)-trailerLen:])
	if actual := xxhash.Sum64(b[:len(b)-trailerLen]); actual != expected {
		return registry.Entry{}, "", errors.New("checksum mismatch")
	}

	var hdr header
	if err := json.Unmarshal(b[prefixLen:prefixLen+hdrLen], &hdr); err != nil {
		return registry.Entry{}, "", errors.PrefixError(err, "invalid header")
	}
	set, err := constraint.ParseSet(hdr.Constraints)
	if err != nil {
		return registry.Entry{}, "", errors.PrefixError(err, "invalid constraints")
	}
	if set.Key() != hdr.Key {
		return registry.Entry{}, "", errors.Errorf(`key "%s" does not match constraints "%s"`, hdr.Key, set.Key())
	}

	artifact := bytes.Clone(b[archivePos : archivePos+archiveLen])
	if _, err := archive.Open(artifact); err != nil {
		return registry.Entry{}, "", err
	}

	return registry.Entry{
		Key:         hdr.Key,
		Constraints: set,
		Downloaded:  hdr.Downloaded,
		Installed:   hdr.Installed,
		Archive:     artifact,
		CreatedAt:   hdr.CreatedAt,
	}, hdr.OS, nil
}

func sizeOf(archivePos, archiveLen uint64) string {
	return fmt.Sprintf("%d+%d+%d bytes", archivePos, archiveLen, trailerLen)
}
