// nolint: gocritic
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/keboola/dtimer/internal/pkg/env"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/cli"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, errors.PrefixError(err, "fatal error").Error()) // nolint:forbidigo
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load ENVs, including ".env" files from the working directory.
	logger := log.NewServiceLogger(os.Stderr, false, log.LogFormatConsole) // nolint:forbidigo
	envs := env.LoadDotEnv(ctx, logger, env.FromOs(), afero.NewOsFs(), []string{"."})

	// Run command.
	root := cli.NewRootCommand(os.Stdout, os.Stderr, envs, nil) // nolint:forbidigo
	root.SetArgs(os.Args[1:])
	return root.ExecuteContext(ctx)
}
