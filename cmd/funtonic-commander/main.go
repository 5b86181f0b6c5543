// Package main provides the funtonic commander entrypoint.
//
// Usage:
//
//	funtonic-commander [--config commander.yml] cmd [-r] [-g] <predicate> <command...>
//	funtonic-commander admin [-o mode] <operation> [args]
//	funtonic-commander keys authorize <predicate> <key-id> <base64-public-key>
//	funtonic-commander keys revoke <predicate> <key-id>
//	funtonic-commander utils genkey <name>
//	funtonic-commander int <predicate>
//
// cmd exits 0 only when at least one executor matched and every one of
// them completed with exit code zero.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/siderant/funtonic/commander"
	"github.com/siderant/funtonic/config"
	"github.com/siderant/funtonic/iox"
	"github.com/siderant/funtonic/log"
	"github.com/siderant/funtonic/protocol"
)

func main() {
	app := &cli.App{
		Name:    "funtonic-commander",
		Usage:   "Funtonic commander",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to commander.yml",
			},
		},
		Commands: []*cli.Command{
			cmdCommand(),
			adminCommand(),
			keysCommand(),
			utilsCommand(),
			interactiveCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		if code, ok := err.(cli.ExitCoder); ok {
			os.Exit(code.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect loads the commander config and dials the server.
func connect(c *cli.Context) (*commander.Commander, *grpc.ClientConn, error) {
	cfg, err := config.Load[config.Commander](c.String("config"), config.CommanderFile)
	if err != nil {
		return nil, nil, err
	}
	conn, err := config.Dial(cfg.ServerURL, cfg.TLS)
	if err != nil {
		return nil, nil, err
	}
	return commander.New(commander.Options{
		Conn:   conn,
		Config: cfg,
		Logger: log.New("commander"),
	}), conn, nil
}

func cmdCommand() *cli.Command {
	return &cli.Command{
		Name:      "cmd",
		Usage:     "Run a shell command on every matching executor",
		ArgsUsage: "<predicate> <command...>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "raw",
				Aliases: []string{"r"},
				Usage:   "Print remote output verbatim as it arrives, nothing else",
			},
			&cli.BoolFlag{
				Name:    "group",
				Aliases: []string{"g"},
				Usage:   "Group output by executor instead of a live stream",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("usage: cmd <predicate> <command...>", 1)
			}
			cmdr, conn, err := connect(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer iox.DiscardClose(conn)

			predicate := c.Args().First()
			command := strings.Join(c.Args().Tail(), " ")
			summary, err := cmdr.Launch(c.Context, predicate, command, commander.LaunchOptions{
				Raw:   c.Bool("raw"),
				Group: c.Bool("group"),
			})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if code := summary.ExitCode(); code != 0 {
				return cli.Exit("", code)
			}
			return nil
		},
	}
}

func adminCommand() *cli.Command {
	outputFlag := &cli.StringFlag{
		Name:    "output-mode",
		Aliases: []string{"o"},
		Usage:   "json, pretty-json or human-readable",
		Value:   "human-readable",
	}
	runAdmin := func(c *cli.Context, req protocol.AdminRequest) error {
		mode, err := commander.ParseOutputMode(c.String("output-mode"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		cmdr, conn, err := connect(c)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer iox.DiscardClose(conn)
		out, err := cmdr.Admin(c.Context, req, mode)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Print(out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Println()
		}
		return nil
	}
	return &cli.Command{
		Name:  "admin",
		Usage: "Administrative operations (requires an admin key)",
		Flags: []cli.Flag{outputFlag},
		Subcommands: []*cli.Command{
			{
				Name:      "list-connected-executors",
				Usage:     "List connected executors and their meta",
				ArgsUsage: "[predicate]",
				Flags:     []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{
						ListConnectedExecutors: &protocol.AdminQuery{Query: c.Args().First()},
					})
				},
			},
			{
				Name:      "list-known-executors",
				Usage:     "List every known executor and its meta",
				ArgsUsage: "[predicate]",
				Flags:     []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{
						ListKnownExecutors: &protocol.AdminQuery{Query: c.Args().First()},
					})
				},
			},
			{
				Name:  "list-running-tasks",
				Usage: "List the ids of currently running tasks",
				Flags: []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{ListRunningTasks: &protocol.Empty{}})
				},
			},
			{
				Name:      "drop-executor",
				Usage:     "Forget matching executors and drop their live sessions",
				ArgsUsage: "<predicate>",
				Flags:     []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: drop-executor <predicate>", 1)
					}
					return runAdmin(c, protocol.AdminRequest{
						DropExecutor: &protocol.AdminQuery{Query: c.Args().First()},
					})
				},
			},
			{
				Name:  "list-executor-keys",
				Usage: "List trusted and unapproved executor keys",
				Flags: []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{ListExecutorKeys: &protocol.Empty{}})
				},
			},
			{
				Name:      "approve-executor-key",
				Usage:     "Approve a pending executor key (\"*\" approves all)",
				ArgsUsage: "<client-id>",
				Flags:     []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: approve-executor-key <client-id>", 1)
					}
					return runAdmin(c, protocol.AdminRequest{
						ApproveExecutorKey: &protocol.ApproveExecutorKey{ClientID: c.Args().First()},
					})
				},
			},
			{
				Name:  "list-authorized-keys",
				Usage: "List commander keys accepted for launching tasks",
				Flags: []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{ListAuthorizedKeys: &protocol.Empty{}})
				},
			},
			{
				Name:  "list-admin-authorized-keys",
				Usage: "List keys accepted for admin operations",
				Flags: []cli.Flag{outputFlag},
				Action: func(c *cli.Context) error {
					return runAdmin(c, protocol.AdminRequest{ListAdminAuthorizedKeys: &protocol.Empty{}})
				},
			},
		},
	}
}

func keysCommand() *cli.Command {
	finish := func(summary *commander.Summary, err error) error {
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if code := summary.ExitCode(); code != 0 {
			return cli.Exit("", code)
		}
		return nil
	}
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage executor-side authorized keys (requires an admin key)",
		Subcommands: []*cli.Command{
			{
				Name:      "authorize",
				Usage:     "Push a commander public key to matching executors",
				ArgsUsage: "<predicate> <key-id> <base64-public-key>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return cli.Exit("usage: keys authorize <predicate> <key-id> <base64-public-key>", 1)
					}
					cmdr, conn, err := connect(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer iox.DiscardClose(conn)
					return finish(cmdr.AuthorizeKey(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)))
				},
			},
			{
				Name:      "revoke",
				Usage:     "Remove a commander key from matching executors",
				ArgsUsage: "<predicate> <key-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: keys revoke <predicate> <key-id>", 1)
					}
					cmdr, conn, err := connect(c)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					defer iox.DiscardClose(conn)
					return finish(cmdr.RevokeKey(c.Context, c.Args().Get(0), c.Args().Get(1)))
				},
			},
		},
	}
}

func utilsCommand() *cli.Command {
	return &cli.Command{
		Name:  "utils",
		Usage: "Utilities",
		Subcommands: []*cli.Command{
			{
				Name:      "genkey",
				Usage:     "Generate an Ed25519 key pair as config snippets",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: utils genkey <name>", 1)
					}
					out, err := commander.GenerateKeyYAML(c.Args().First())
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					fmt.Printf("Generated keys:\n%s", out)
					return nil
				},
			},
		},
	}
}

func interactiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "int",
		Usage:     "Interactive mode: run commands read from stdin on matching executors",
		ArgsUsage: "<predicate>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: int <predicate>", 1)
			}
			cmdr, conn, err := connect(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer iox.DiscardClose(conn)
			if err := cmdr.Interactive(c.Context, c.Args().First(), os.Stdin); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}
