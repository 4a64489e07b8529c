package environment_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/environment"
)

func TestEnvironment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	logger := log.NewDebugLogger()
	env := environment.New(logger, fs, "/data", 2)
	assert.Equal(t, "/data/shard-2/env", env.Path())

	// Created lazily
	exists, err := afero.DirExists(fs, env.Path())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, env.Create(ctx))
	require.NoError(t, env.Create(ctx))
	exists, err = afero.DirExists(fs, env.Path())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, fs.MkdirAll("/build/redis", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/build/redis/__init__.py", []byte("pass"), 0o644))
	raw, err := archive.Pack(fs, "/build")
	require.NoError(t, err)
	artifact, err := archive.Seal(raw, archive.NewConfig())
	require.NoError(t, err)

	assert.False(t, env.IsMaterialized("redis"))
	require.NoError(t, env.Materialize(ctx, "redis", artifact))
	assert.True(t, env.IsMaterialized("redis"))

	content, err := afero.ReadFile(fs, "/data/shard-2/env/redis/__init__.py")
	require.NoError(t, err)
	assert.Equal(t, "pass", string(content))

	// Corrupted archive
	require.Error(t, env.Materialize(ctx, "numpy", artifact[:10]))
	assert.False(t, env.IsMaterialized("numpy"))

	// Created only once
	assert.Equal(t, "INFO  created environment \"/data/shard-2/env\"\n", logger.InfoMessages())
}
