package installer

import "time"

const (
	BackendCommand BackendType = "command"
	BackendCatalog BackendType = "catalog"
)

type BackendType string

type Config struct {
	Backend     BackendType   `configKey:"backend" configUsage:"Package installer backend: command or catalog." validate:"required,oneof=command catalog"`
	Command     string        `configKey:"command" configUsage:"Install command template, placeholders: {dir}, {requirements}." validate:"required_if=Backend command"`
	CatalogFile string        `configKey:"catalogFile" configUsage:"Path to a JSON package catalog, used by the catalog backend."`
	Timeout     time.Duration `configKey:"timeout" configUsage:"Timeout of one install." validate:"minDuration=1s,maxDuration=1h"`
}

func NewConfig() Config {
	return Config{
		Backend: BackendCommand,
		Command: "pip install --disable-pip-version-check --no-cache-dir --target {dir} {requirements}",
		Timeout: 10 * time.Minute,
	}
}
