package discover

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/experiment"
)

// Command creates the discover command, which looks for confident
// undeclared species in the stored soft labels of single-label clips.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find missing labels in stored soft labels",
		Long:  "Scan the soft labels of clips with exactly one declared species and merge confident extra species into the additional labels file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return experiment.Run(cmd.Context(), ctx.Settings, experiment.CommandDiscover,
				func(c context.Context, env *experiment.Env) error {
					res, err := experiment.Discover(c, env)
					if res != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "discovery: %d scanned, %d skipped, %d missing, %d with new labels\n",
							res.Scanned, res.Skipped, res.Missing, len(res.Found))
					}
					return err
				})
		},
	}

	setupFlags(cmd, ctx)

	return cmd
}

func setupFlags(cmd *cobra.Command, ctx *conf.Context) {
	cmd.Flags().Float64P("threshold", "t", 0, "Minimum soft-label probability of a discovered species")
	cmd.Flags().StringP("output", "o", "", "Additional labels json file")

	ctx.BindFlags(cmd, map[string]string{
		"threshold": "discovery.threshold",
		"output":    "discovery.output",
	})
}
