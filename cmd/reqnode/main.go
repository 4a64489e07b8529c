package main

import (
	"context"
	"fmt"
	"os"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/cmd"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func main() {
	root := cmd.NewRootCommand(os.Stdout, os.Stderr, os.LookupEnv) // nolint:forbidigo
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errors.PrefixError(err, "fatal error").Error()) // nolint:forbidigo
		os.Exit(1)
	}
}
