package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	var o options
	return &cli.Command{
		Name:  "modelrun",
		Usage: "Run a compiled model on raw tensor files and report latency",
		Flags: append(runFlags(&o), loggingFlags(&o)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runModel(ctx, cmd, &o)
		},
		Commands: []*cli.Command{
			versionCmd(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
