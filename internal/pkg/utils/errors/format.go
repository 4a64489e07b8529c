package errors

import (
	"fmt"
	"strings"
)

const (
	Indent = "  "
	Bullet = "- "
)

type FormatOption func(c *formatConfig)

type formatConfig struct {
	withStack bool
}

// FormatWithStack appends the location where the error was created to each message.
func FormatWithStack() FormatOption {
	return func(c *formatConfig) {
		c.withStack = true
	}
}

// Format error to a string. Nested multi errors are formatted as an indented list.
func Format(err error, opts ...FormatOption) string {
	cfg := formatConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	var out strings.Builder
	writeError(&out, cfg, err, 0)
	return out.String()
}

func writeError(out *strings.Builder, cfg formatConfig, err error, level int) {
	if multi, ok := err.(MultiError); ok && multi.Len() > 1 {
		for i, item := range multi.WrappedErrors() {
			if i > 0 {
				out.WriteString("\n")
			}
			out.WriteString(strings.Repeat(Indent, level))
			out.WriteString(Bullet)
			writeError(out, cfg, item, level+1)
		}
		return
	}

	out.WriteString(err.Error())
	if cfg.withStack {
		if v, ok := err.(stackTracer); ok && len(v.StackTrace()) > 0 {
			frame := v.StackTrace()[0]
			out.WriteString(fmt.Sprintf(" [%s:%d]", frame.File, frame.Line))
		}
	}
}
