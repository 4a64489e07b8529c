package log

import (
	"strings"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// LogFormat of the service logger.
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// NewLogFormat parses the format, an empty value means console.
// Console is returned together with an error, if the value is unexpected.
func NewLogFormat(format string) (LogFormat, error) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(format))); f {
	case "":
		return LogFormatConsole, nil
	case LogFormatConsole, LogFormatJSON:
		return f, nil
	default:
		return LogFormatConsole, errors.Errorf(`unexpected log format "%s", expected "console" or "json"`, format)
	}
}
