package conf

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/birdsed/internal/buildinfo"
	"github.com/tphakala/birdsed/internal/logger"
)

// Context is the state shared by the command line entry points. Settings is
// populated by the root command before any subcommand runs.
type Context struct {
	Viper      *viper.Viper
	ConfigFile string
	Settings   *Settings
	Build      *buildinfo.Context
}

// NewContext creates a command context around a fresh viper instance.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{
		Viper:    viper.New(),
		Settings: &Settings{},
		Build:    build,
	}
}

// BindFlags binds the flags of cmd to configuration keys, keyed by flag
// name. A flag set on the command line takes precedence over the config
// file and environment.
func (c *Context) BindFlags(cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		if err := c.Viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			GetLogger().Warn("failed to bind flag",
				logger.String("flag", name),
				logger.String("key", key),
				logger.Error(err))
		}
	}
}
