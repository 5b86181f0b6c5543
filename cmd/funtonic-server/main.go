// Package main provides the funtonic task server entrypoint.
//
// Usage:
//
//	funtonic-server [--config server.yml]
//
// The server brokers tasks between commanders and executors over a single
// gRPC endpoint.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/log"
	"github.com/siderant/funtonic/metrics"
	"github.com/siderant/funtonic/server"
)

func main() {
	app := &cli.App{
		Name:    "funtonic-server",
		Usage:   "Funtonic task server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to server.yml",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New("server")
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load[config.Server](c.String("config"), config.ServerFile)
	if err != nil {
		logger.Error("cannot load configuration", zap.Error(err))
		return err
	}

	stats := metrics.NewCollector()
	ts, err := server.New(server.Options{
		DataDir:             cfg.DataDirectory,
		AuthorizedKeys:      cfg.AuthorizedKeys,
		AdminAuthorizedKeys: cfg.AdminAuthorizedKeys,
		Logger:              logger,
		Metrics:             stats,
	})
	if err != nil {
		logger.Error("cannot initialize server", zap.Error(err))
		return err
	}

	var opts []grpc.ServerOption
	if cfg.TLS != nil {
		creds, err := cfg.TLS.ServerCredentials()
		if err != nil {
			logger.Error("cannot build TLS credentials", zap.Error(err))
			return err
		}
		opts = append(opts, grpc.Creds(creds))
		logger.Info("TLS enabled")
	}
	g := ts.GRPCServer(opts...)

	lis, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		logger.Error("cannot bind", zap.String("address", cfg.BindAddress), zap.Error(err))
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down", zap.Any("stats", stats.Snapshot()))
		g.GracefulStop()
	}()

	logger.Info("listening", zap.String("address", cfg.BindAddress))
	return g.Serve(lis)
}
