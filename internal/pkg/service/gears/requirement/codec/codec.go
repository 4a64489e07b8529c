package codec

import (
	"iter"
	"runtime"
	"slices"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
)

// Codec exports and imports requirements.
type Codec struct {
	chunkSize int
	os        string
}

func New(cfg Config) *Codec {
	return &Codec{chunkSize: int(cfg.ChunkSize.Bytes()), os: CurrentOS()}
}

// CurrentOS identifies the platform the requirements are built for.
func CurrentOS() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// Export returns the entry metadata and the bundle split into chunks.
func (c *Codec) Export(entry registry.Entry) (Metadata, [][]byte, error) {
	bundle, err := EncodeBundle(entry, c.os)
	if err != nil {
		return nil, nil, err
	}
	return NewMetadata(entry, c.os), split(bundle, c.chunkSize), nil
}

// Import joins the chunks and decodes the bundle.
// The imported entry is downloaded and installed, regardless of the exported flags.
func (c *Codec) Import(chunks ...[]byte) (registry.Entry, error) {
	return c.ImportSeq(slices.Values(chunks))
}

// ImportSeq consumes the chunks lazily, the bundle is validated when the sequence ends.
func (c *Codec) ImportSeq(chunks iter.Seq[[]byte]) (registry.Entry, error) {
	var bundle []byte
	for chunk := range chunks {
		bundle = append(bundle, chunk...)
	}

	entry, _, err := DecodeBundle(bundle)
	if err != nil {
		return registry.Entry{}, err
	}

	entry.Downloaded = true
	entry.Installed = true
	return entry, nil
}

func split(b []byte, size int) [][]byte {
	if size <= 0 || len(b) <= size {
		return [][]byte{b}
	}
	out := make([][]byte, 0, len(b)/size+1)
	for len(b) > 0 {
		n := min(size, len(b))
		out = append(out, b[:n:n])
		b = b[n:]
	}
	return out
}
