// Command nxnandmanager is a thin CLI front end over the core storage,
// copyengine, and fat32 packages. It contains none of the hard parts itself:
// every subcommand is a handful of lines gluing urfave/cli flags to a public
// API call.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/minkione/NxNandManager/logger"
)

// stopWork is shared by every subcommand that drives a CopyEngine
// operation; Ctrl-C flips it so a running copy observes cancellation at the
// next buffer boundary instead of leaving the process unkillable mid-dump.
var stopWork atomic.Bool

func main() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		stopWork.Store(true)
	}()

	app := &cli.App{
		Name:  "nxnandmanager",
		Usage: "inspect, dump, restore, and browse NX NAND storage images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "verbose",
				Usage: "minimum log level: DEBUG, INFO, WARN, ERROR (silent if omitted)",
			},
		},
		Commands: []*cli.Command{
			inspectCommand,
			dumpCommand,
			restoreCommand,
			lsCommand,
			dfCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nxnandmanager:", err)
		os.Exit(1)
	}
}

// loggerFromContext builds the leveled logger the --verbose flag selects,
// or a silent one if it wasn't given.
func loggerFromContext(c *cli.Context) *logger.Logger {
	level := c.String("verbose")
	if level == "" {
		return logger.Discard
	}
	return logger.New(os.Stderr, logger.ParseLevel(level))
}
