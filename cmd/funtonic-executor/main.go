// Package main provides the funtonic executor entrypoint.
//
// Usage:
//
//	funtonic-executor [--config executor.yml]
//
// The executor connects to the task server, stays registered and runs
// every task dispatched to it until stopped.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/executor"
	"github.com/siderant/funtonic/log"
)

func main() {
	app := &cli.App{
		Name:    "funtonic-executor",
		Usage:   "Funtonic executor agent",
		Version: executor.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to executor.yml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New("executor")
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load[config.Executor](c.String("config"), config.ExecutorFile)
	if err != nil {
		logger.Error("cannot load configuration", zap.Error(err))
		return err
	}
	agent, err := executor.New(executor.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("cannot initialize agent", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("client_id", cfg.ClientID), zap.String("server", cfg.ServerURL))
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
