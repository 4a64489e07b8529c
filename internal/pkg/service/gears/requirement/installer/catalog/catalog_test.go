package catalog_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/installer/catalog"
)

const catalogJSON = `[
  {"name": "redis", "version": "2.10.6", "files": {"redis/__init__.py": "VERSION = '2.10.6'"}},
  {"name": "redis", "version": "3.5.3", "files": {"redis/__init__.py": "VERSION = '3.5.3'"}},
  {"name": "redis", "version": "3.0.1", "files": {"redis/__init__.py": "VERSION = '3.0.1'"}},
  {"name": "python-dateutil", "version": "2.8.2"}
]`

func loadCatalog(t *testing.T) *catalog.Backend {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/catalog.json", []byte(catalogJSON), 0o644))
	backend, err := catalog.LoadFile(fs, "/catalog.json")
	require.NoError(t, err)
	return backend
}

func TestBackend_Resolve(t *testing.T) {
	t.Parallel()

	backend := loadCatalog(t)
	cases := map[string]string{
		"redis":           "3.5.3",
		"redis==2.10.6":   "2.10.6",
		"redis>=3":        "3.5.3",
		"Python_Dateutil": "2.8.2",
	}
	for input, version := range cases {
		spec, err := constraint.Parse(input)
		require.NoError(t, err)
		pkg, found := backend.Resolve(spec)
		require.True(t, found, input)
		assert.Equal(t, version, pkg.Version, input)
	}

	spec, _ := constraint.Parse("redis>=4")
	_, found := backend.Resolve(spec)
	assert.False(t, found)
}

func TestBackend_Install(t *testing.T) {
	t.Parallel()

	backend := loadCatalog(t)
	fs := afero.NewMemMapFs()
	set, err := constraint.ParseSet([]string{"redis>=3", "python-dateutil"})
	require.NoError(t, err)

	require.NoError(t, backend.Install(context.Background(), installer.BuildRequest{Fs: fs, Dir: "/build", Constraints: set}))
	assert.Equal(t, int64(1), backend.Invocations())

	content, err := afero.ReadFile(fs, "/build/redis/__init__.py")
	require.NoError(t, err)
	assert.Equal(t, "VERSION = '3.5.3'", string(content))

	metadata, err := afero.ReadFile(fs, "/build/python_dateutil-2.8.2.dist-info/METADATA")
	require.NoError(t, err)
	assert.Equal(t, "Name: python-dateutil\nVersion: 2.8.2\n", string(metadata))
}

func TestBackend_Install_Unresolved(t *testing.T) {
	t.Parallel()

	backend := loadCatalog(t)
	set, err := constraint.ParseSet([]string{"numpy", "redis==9"})
	require.NoError(t, err)

	err = backend.Install(context.Background(), installer.BuildRequest{Fs: afero.NewMemMapFs(), Dir: "/build", Constraints: set})
	require.Error(t, err)
	assert.Equal(t, "- no version of package \"numpy\" matches \"numpy\"\n- no version of package \"redis\" matches \"redis==9\"", err.Error())
}

func TestNew_InvalidVersion(t *testing.T) {
	t.Parallel()

	_, err := catalog.New(catalog.Package{Name: "redis", Version: "latest"})
	require.Error(t, err)
	assert.Equal(t, `invalid version "latest" of package "redis"`, err.Error())
}
