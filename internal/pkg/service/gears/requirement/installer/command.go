package installer

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	dirPlaceholder          = "{dir}"
	requirementsPlaceholder = "{requirements}"
	maxOutputInError        = 2000
	waitDelay               = time.Second
)

// CommandBackend runs an external install command, for example "pip install --target {dir} {requirements}".
// The build directory must be on the OS filesystem.
type CommandBackend struct {
	args    []string
	timeout time.Duration
}

func NewCommandBackend(template string, timeout time.Duration) (*CommandBackend, error) {
	args, err := shlex.Split(template)
	if err != nil {
		return nil, errors.PrefixErrorf(err, `cannot parse install command "%s"`, template)
	}
	if len(args) == 0 {
		return nil, errors.New("install command is empty")
	}

	hasDir := false
	for _, arg := range args {
		if strings.Contains(arg, dirPlaceholder) {
			hasDir = true
		}
	}
	if !hasDir {
		return nil, errors.Errorf(`install command "%s" must contain the "%s" placeholder`, template, dirPlaceholder)
	}

	return &CommandBackend{args: args, timeout: timeout}, nil
}

func (b *CommandBackend) Install(ctx context.Context, req BuildRequest) error {
	args := b.Args(req)

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(output.String())
		if len(out) > maxOutputInError {
			out = "..." + out[len(out)-maxOutputInError:]
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if out != "" {
			return errors.Errorf("command failed: %s\n%s", err, out)
		}
		return errors.Errorf("command failed: %s", err)
	}
	return nil
}

// Args returns the command with expanded placeholders.
func (b *CommandBackend) Args(req BuildRequest) []string {
	out := make([]string, 0, len(b.args)+len(req.Constraints))
	for _, arg := range b.args {
		if arg == requirementsPlaceholder {
			out = append(out, req.Constraints.Strings()...)
			continue
		}
		out = append(out, strings.ReplaceAll(arg, dirPlaceholder, req.Dir))
	}
	return out
}
