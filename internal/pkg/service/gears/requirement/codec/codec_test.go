package codec_test

import (
	"bytes"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/codec"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func installedEntry(t *testing.T, payload []byte) registry.Entry {
	t.Helper()

	set, err := constraint.ParseSet([]string{"redis==3", "rejson"})
	require.NoError(t, err)
	artifact, err := archive.Seal(payload, archive.NewConfig())
	require.NoError(t, err)

	return registry.Entry{
		Key:         set.Key(),
		Constraints: set.Canonical(),
		Downloaded:  true,
		Installed:   true,
		Archive:     artifact,
		CreatedAt:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestCodec_ExportImport(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.NewConfig())
	entry := installedEntry(t, []byte("redis files"))

	metadata, chunks, err := c.Export(entry)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "yes", metadata[codec.DownloadedIndex])
	assert.Equal(t, "yes", metadata[codec.InstalledIndex])
	assert.Equal(t, "redis==3,rejson", metadata.Name())
	assert.True(t, metadata.IsDownloaded())
	assert.True(t, metadata.IsInstalled())
	size, found := metadata.Get("ArchiveSize")
	require.True(t, found)
	assert.Equal(t, len(entry.Archive), size)

	imported, err := c.Import(chunks...)
	require.NoError(t, err)
	assert.Equal(t, entry, imported)
}

func TestCodec_Chunks(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.Config{ChunkSize: 1 * datasize.KB})
	entry := installedEntry(t, bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 2000))
	entry.Archive = mustSealRaw(t, bytes.Repeat([]byte{1, 2, 3, 4, 5, 6, 7}, 2000))

	_, chunks, err := c.Export(entry)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 1024)
	}

	imported, err := c.ImportSeq(slices.Values(chunks))
	require.NoError(t, err)
	assert.Equal(t, entry.Archive, imported.Archive)

	// Concatenation is equivalent
	imported, err = c.Import(bytes.Join(chunks, nil))
	require.NoError(t, err)
	assert.Equal(t, entry.Key, imported.Key)
}

func TestCodec_Import_EveryPrefixFails(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.NewConfig())
	_, chunks, err := c.Export(installedEntry(t, []byte("redis files")))
	require.NoError(t, err)
	data := chunks[0]

	for i := 0; i < len(data); i++ {
		_, err := c.Import(data[:i])
		require.Error(t, err, "prefix length %d", i)
		var corrupt codec.ImportCorruptError
		assert.True(t, errors.As(err, &corrupt), "prefix length %d", i)
	}

	// Split prefix
	_, err = c.Import(data[:10], data[10:len(data)-1])
	require.Error(t, err)

	// Full data in two chunks
	_, err = c.Import(data[:10], data[10:])
	require.NoError(t, err)
}

func TestCodec_Import_CorruptedByte(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.NewConfig())
	_, chunks, err := c.Export(installedEntry(t, []byte("redis files")))
	require.NoError(t, err)

	for i := range chunks[0] {
		modified := bytes.Clone(chunks[0])
		modified[i] ^= 0x01
		_, err := c.Import(modified)
		assert.Error(t, err, "byte %d", i)
	}
}

func TestCodec_Import_PendingFlags(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.NewConfig())
	entry := installedEntry(t, []byte("redis files"))
	entry.Installed = false

	metadata, chunks, err := c.Export(entry)
	require.NoError(t, err)
	assert.Equal(t, "no", metadata[codec.InstalledIndex])

	imported, err := c.Import(chunks...)
	require.NoError(t, err)
	assert.True(t, imported.Downloaded)
	assert.True(t, imported.Installed)
}

func TestCodec_Export_NotDownloaded(t *testing.T) {
	t.Parallel()

	c := codec.New(codec.NewConfig())
	_, _, err := c.Export(registry.Entry{Key: "numpy"})
	require.Error(t, err)
	assert.Equal(t, `requirement "numpy" is not downloaded, nothing to export`, err.Error())
}

func TestMetadata_String(t *testing.T) {
	t.Parallel()

	entry := installedEntry(t, []byte("redis files"))
	metadata := codec.NewMetadata(entry, "linux-amd64")

	checksum, _ := metadata.Get("Checksum")
	expected := "['GearReqVersion', 1, 'Name', 'redis==3,rejson', 'IsDownloaded', 'yes', 'IsInstalled', 'yes', " +
		"'CompiledOs', 'linux-amd64', 'Constraints', ['redis==3', 'rejson'], " +
		"'ArchiveSize', " + strconv.Itoa(len(entry.Archive)) + ", 'Checksum', '" + checksum.(string) + "']"
	assert.Equal(t, expected, metadata.String())
}

func mustSealRaw(t *testing.T, raw []byte) []byte {
	t.Helper()
	artifact, err := archive.Seal(raw, archive.Config{Type: archive.TypeNone})
	require.NoError(t, err)
	return artifact
}
