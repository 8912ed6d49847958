// Command stiltctl runs the stages of the STILT pipeline.
//
// Usage:
//
//	stiltctl [-config file] <command> [arguments]
//
// Commands:
//
//	migrate                 create the database schema
//	produce-scenes <dir>    create scenes from the definition files in dir
//	minimize-meteorology    consume SceneCreated events
//	generate-simulations    consume MeteorologyMinimized events
//	execute-simulations     run pending simulations
//	sweep [-every d]        release stale claims and expired leases
//	backlog                 print the backlog snapshot as JSON
//	serve-metrics           serve backlog gauges on METRICS_ADDR
//
// Configuration is read from the environment, optionally layered over a YAML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK      = 0
	exitFailure = 1
)

var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("stiltctl", flag.ContinueOnError)
	configFile := flags.String("config", "", "optional YAML config file, overridden by the environment")
	flags.Usage = func() { usage(flags) }

	if err := flags.Parse(args); err != nil {
		return exitFailure
	}

	if flags.NArg() == 0 {
		usage(flags)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, *configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailure
	}
	defer a.close()

	command, commandArgs := flags.Arg(0), flags.Args()[1:]
	if err := a.dispatch(ctx, command, commandArgs); err != nil {
		if errors.Is(err, errUsage) {
			usage(flags)
		}
		a.logger.Error("command failed", slog.String("command", command), slog.String("error", err.Error()))
		return exitFailure
	}

	return exitOK
}

func usage(flags *flag.FlagSet) {
	out := flags.Output()
	fmt.Fprintln(out, "usage: stiltctl [-config file] <command> [arguments]")
	fmt.Fprintln(out, "commands: migrate, produce-scenes <dir>, minimize-meteorology, generate-simulations,")
	fmt.Fprintln(out, "          execute-simulations, sweep [-every duration], backlog, serve-metrics")
	flags.PrintDefaults()
}
