package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/birdsed/cmd"
	"github.com/tphakala/birdsed/internal/buildinfo"
	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/errors"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer errors.FlushTelemetry(2 * time.Second)

	cliCtx := conf.NewContext(buildinfo.NewContext(version, buildDate))
	rootCmd := cmd.RootCommand(cliCtx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
