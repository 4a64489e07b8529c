package persistence

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// Frame layout: payloadLen u32 | xxhash64(payload) u64 | payload.
const frameHeaderLen = 4 + 8

const maxFrameLen = 1 << 31

var errTruncated = errors.New("truncated frame")

func appendFrame(out []byte, payload []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(payload))
	return append(out, payload...)
}

// readFrame returns the payload and the number of consumed bytes.
// An incomplete frame at the end of the input returns errTruncated.
func readFrame(b []byte) ([]byte, int, error) {
	if len(b) < frameHeaderLen {
		return nil, 0, errTruncated
	}

	length := binary.BigEndian.Uint32(b[0:4])
	if length >= maxFrameLen {
		return nil, 0, errors.Errorf("invalid frame length %d", length)
	}
	end := frameHeaderLen + int(length)
	if len(b) < end {
		return nil, 0, errTruncated
	}

	payload := b[frameHeaderLen:end]
	if xxhash.Sum64(payload) != binary.BigEndian.Uint64(b[4:12]) {
		return nil, 0, errors.New("checksum mismatch")
	}
	return payload, end, nil
}

func writeFull(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	return err
}
