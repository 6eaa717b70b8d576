package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/zenify/internal/config"
	"github.com/alexisbeaulieu97/zenify/internal/ports"
	"github.com/alexisbeaulieu97/zenify/internal/runtime"
)

func loadConfig(flags *rootFlags) (*config.Config, error) {
	if flags.configPath == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(flags.configPath)
}

func openRuntime(cmd *cobra.Command, operation string, flags *rootFlags) (*runtime.Runtime, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, newCommandError(operation, "loading configuration", err, "Run 'zenify config validate <file>' to see what is wrong.")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = ports.WithCorrelationID(ctx, ports.GenerateCorrelationID())
	cmd.SetContext(ctx)
	rt, err := runtime.New(ctx, runtime.Options{
		Config:    *cfg,
		LogWriter: cmd.ErrOrStderr(),
		Verbose:   flags.verbose,
		Offline:   flags.offline,
	})
	if err != nil {
		return nil, newCommandError(operation, "starting runtime", err, "Check that the queue storage path is writable.")
	}
	return rt, nil
}
