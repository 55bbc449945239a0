// Package main runs the estimator described by a JSON configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/fuse/logging"
	// registers all sensor models.
	_ "go.viam.com/fuse/models/register"
)

const (
	flagConfig    = "config"
	flagDebug     = "debug"
	flagStamp     = "stamp"
	flagService   = "service"
	flagSnapshots = "snapshots"
)

var logger = logging.NewLogger("fuse")

func newApp() *cli.App {
	return &cli.App{
		Name:            "fuse",
		Usage:           "run a sensor fusion estimator",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the estimator until interrupted",
				Action: RunAction,
			},
			{
				Name:            "snapshots",
				Usage:           "work with stored graph snapshots",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list stored snapshots, oldest first",
						Action: ListSnapshotsAction,
					},
					{
						Name:  "show",
						Usage: "summarize one stored snapshot",
						Flags: []cli.Flag{
							&cli.Int64Flag{
								Name:  flagStamp,
								Usage: "stamp of the snapshot in unix nanoseconds; the newest if unset",
							},
						},
						Action: ShowSnapshotAction,
					},
				},
			},
			{
				Name:  "replay",
				Usage: "run the estimator seeded with a stored snapshot",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  flagStamp,
						Usage: "stamp of the snapshot in unix nanoseconds; the newest if unset",
					},
					&cli.StringFlag{
						Name:  flagService,
						Usage: "set graph service of the graph ignition model",
						Value: "set_graph",
					},
					&cli.StringFlag{
						Name:  flagSnapshots,
						Usage: "read the snapshot from the store at `DIR` instead of the configured one",
					},
				},
				Action: ReplayAction,
			},
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
