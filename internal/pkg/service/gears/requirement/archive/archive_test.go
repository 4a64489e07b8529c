package archive_test

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte("site-packages/redis/__init__.py\n"), 100)
	for _, compression := range []archive.Type{archive.TypeNone, archive.TypeGZIP, archive.TypeZSTD} {
		cfg := archive.NewConfig()
		cfg.Type = compression

		sealed, err := archive.Seal(raw, cfg)
		require.NoError(t, err, compression)
		require.NoError(t, archive.Validate(sealed), compression)

		opened, err := archive.Open(sealed)
		require.NoError(t, err, compression)
		assert.Equal(t, raw, opened, compression)

		_, err = archive.Checksum(sealed)
		require.NoError(t, err)
	}
}

func TestSeal_InvalidType(t *testing.T) {
	t.Parallel()
	_, err := archive.Seal([]byte("abc"), archive.Config{Type: "lz4"})
	require.Error(t, err)
	assert.Equal(t, `unexpected compression type "lz4"`, err.Error())
}

func TestValidate_RejectsEveryPrefix(t *testing.T) {
	t.Parallel()

	sealed, err := archive.Seal([]byte("some installed files"), archive.NewConfig())
	require.NoError(t, err)

	for i := 0; i < len(sealed); i++ {
		err := archive.Validate(sealed[:i])
		require.Error(t, err, "prefix length %d", i)
		var corrupt archive.CorruptError
		assert.True(t, errors.As(err, &corrupt))
	}
}

func TestValidate_RejectsModifiedByte(t *testing.T) {
	t.Parallel()

	sealed, err := archive.Seal([]byte("some installed files"), archive.NewConfig())
	require.NoError(t, err)

	for i := 0; i < len(sealed); i++ {
		modified := bytes.Clone(sealed)
		modified[i] ^= 0xFF
		assert.Error(t, archive.Validate(modified), "byte %d", i)
	}

	// Appended garbage
	assert.Error(t, archive.Validate(append(bytes.Clone(sealed), 0)))
}

func TestOpen_DeclaredRawSizeMismatch(t *testing.T) {
	t.Parallel()

	for _, compression := range []archive.Type{archive.TypeNone, archive.TypeGZIP, archive.TypeZSTD} {
		cfg := archive.NewConfig()
		cfg.Type = compression
		sealed, err := archive.Seal([]byte("some installed files"), cfg)
		require.NoError(t, err, compression)

		// Declare 3 GiB of raw data, the envelope stays consistent
		body := bytes.Clone(sealed[:len(sealed)-archive.TrailerLen])
		binary.BigEndian.PutUint64(body[8:16], 3<<30)
		forged := binary.BigEndian.AppendUint64(body, xxhash.Sum64(body))
		require.NoError(t, archive.Validate(forged), compression)

		_, err = archive.Open(forged)
		require.Error(t, err, compression)
		var corrupt archive.CorruptError
		require.True(t, errors.As(err, &corrupt), compression)
		assert.Contains(t, err.Error(), "expected 3221225472 raw bytes", compression)
	}
}

func TestPackUnpack(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/build/redis", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/build/redis/__init__.py", []byte("VERSION = '3'\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/build/rejson.py", []byte("pass\n"), 0o644))

	raw, err := archive.Pack(fs, "/build")
	require.NoError(t, err)

	// Pack is deterministic
	again, err := archive.Pack(fs, "/build")
	require.NoError(t, err)
	assert.Equal(t, raw, again)

	require.NoError(t, archive.Unpack(fs, "/env", raw))
	content, err := afero.ReadFile(fs, "/env/redis/__init__.py")
	require.NoError(t, err)
	assert.Equal(t, "VERSION = '3'\n", string(content))
	content, err = afero.ReadFile(fs, "/env/rejson.py")
	require.NoError(t, err)
	assert.Equal(t, "pass\n", string(content))
}

func TestUnpack_RejectsEscapingPath(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape.py", Typeflag: tar.TypeReg, Size: 1, Mode: 0o644}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = archive.Unpack(afero.NewMemMapFs(), "/env", buf.Bytes())
	require.Error(t, err)
	assert.Equal(t, `corrupted archive: invalid path "../escape.py"`, err.Error())
}
