package configmap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	DataDir     string            `configKey:"dataDir" configUsage:"Data directory." validate:"required"`
	Shards      int               `configKey:"shards" configUsage:"Number of shards." validate:"min=1"`
	Verbose     bool              `configKey:"verbose" configShorthand:"v"`
	Replication testReplication   `configKey:"replication"`
	ChunkSize   datasize.ByteSize `configKey:"chunkSize"`
	Ignored     string
}

type testReplication struct {
	Listen      string        `configKey:"listen"`
	Replicas    []string      `configKey:"replicas"`
	DialTimeout time.Duration `configKey:"dialTimeout"`
}

func defaultTestConfig() testConfig {
	return testConfig{
		DataDir:     "/var/lib/reqnode",
		Shards:      1,
		Replication: testReplication{DialTimeout: 5 * time.Second},
		ChunkSize:   datasize.MB,
	}
}

func TestGenerateFlags(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, GenerateFlags(fs, &cfg))

	var names []string
	fs.VisitAll(func(f *pflag.Flag) {
		names = append(names, f.Name)
	})
	assert.ElementsMatch(t, []string{
		"data-dir",
		"shards",
		"verbose",
		"replication-listen",
		"replication-replicas",
		"replication-dial-timeout",
		"chunk-size",
	}, names)
	assert.Equal(t, "v", fs.Lookup("verbose").Shorthand)
	assert.Equal(t, "Data directory.", fs.Lookup("data-dir").Usage)
	assert.Equal(t, "1MB", fs.Lookup("chunk-size").DefValue)
	assert.Equal(t, "5s", fs.Lookup("replication-dial-timeout").DefValue)
}

func TestBind_Priority(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
dataDir: /from/file
shards: 4
replication:
  listen: "0.0.0.0:7000"
  replicas: ["a:1", "b:2"]
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o600))

	cfg := defaultTestConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice(ConfigFileFlag, nil, "")
	require.NoError(t, GenerateFlags(fs, &cfg))
	require.NoError(t, fs.Parse([]string{"--config-file", configFile, "--shards", "8", "--chunk-size", "64KB"}))

	envs := map[string]string{
		"REQNODE_DATA_DIR":                 "/from/env",
		"REQNODE_SHARDS":                   "16",
		"REQNODE_REPLICATION_DIAL_TIMEOUT": "1m",
	}
	spec := BindSpec{
		Flags:     fs,
		EnvPrefix: "REQNODE_",
		Envs: func(name string) (string, bool) {
			v, ok := envs[name]
			return v, ok
		},
	}
	require.NoError(t, Bind(spec, &cfg))

	assert.Equal(t, testConfig{
		DataDir: "/from/env", // env > file
		Shards:  8,           // flag > env > file
		Replication: testReplication{
			Listen:      "0.0.0.0:7000",         // file
			Replicas:    []string{"a:1", "b:2"}, // file
			DialTimeout: time.Minute,            // env
		},
		ChunkSize: 64 * datasize.KB, // flag
	}, cfg)
}

func TestBind_ValidationError(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, GenerateFlags(fs, &cfg))
	require.NoError(t, fs.Parse([]string{"--data-dir", "", "--shards", "0"}))

	err := Bind(BindSpec{Flags: fs, Envs: func(string) (string, bool) { return "", false }}, &cfg)
	require.Error(t, err)
	assert.Equal(t, "- \"dataDir\" is a required field\n- \"shards\" must be 1 or greater", err.Error())
}

func TestFieldToFlagName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "data-dir", fieldToFlagName("dataDir"))
	assert.Equal(t, "replication-dial-timeout", fieldToFlagName("replication.dialTimeout"))
	assert.Equal(t, "REQNODE_REPLICATION_DIAL_TIMEOUT", flagToEnvName("REQNODE_", "replication-dial-timeout"))
}
