package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/cmd/catalog"
	"github.com/tphakala/birdsed/cmd/detect"
	"github.com/tphakala/birdsed/cmd/discover"
	"github.com/tphakala/birdsed/cmd/prepare"
	"github.com/tphakala/birdsed/cmd/softlabel"
	"github.com/tphakala/birdsed/cmd/train"
	"github.com/tphakala/birdsed/cmd/version"
	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "birdsed",
		Short:         "Bird sound event detection with label correction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, ctx)

	catalogCmd := catalog.Command()
	versionCmd := version.Command(ctx.Build)

	rootCmd.AddCommand(
		train.Command(ctx),
		softlabel.Command(ctx),
		discover.Command(ctx),
		detect.Command(ctx),
		prepare.Command(ctx),
		catalogCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// catalog and version need no configuration
		if cmd.Name() == catalogCmd.Name() || cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(ctx)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads the settings and sets up logging and telemetry before a
// pipeline command runs.
func initialize(ctx *conf.Context) error {
	settings, err := conf.Load(ctx.Viper, ctx.ConfigFile)
	if err != nil {
		return err
	}
	ctx.Settings = settings

	if err := initLogging(settings); err != nil {
		return err
	}

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, ctx.Build.Release()); err != nil {
			logger.Global().Module("main").Warn("telemetry disabled", logger.Error(err))
		}
	}
	return nil
}

// initLogging replaces the fallback console logger with the configured one.
func initLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *conf.Context) {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config file, default ./config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := ctx.Viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}
}
