package softlabel

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/experiment"
)

// Command creates the softlabel command, which runs the checkpoint ensemble
// over every training clip and stores the averaged segment probabilities.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "softlabel [checkpoint...]",
		Short: "Generate soft labels with a model ensemble",
		Long:  "Aggregate ensemble predictions into per-segment soft labels for each clip. Checkpoints given as arguments replace the configured ensemble.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				ctx.Settings.Inference.Checkpoints = args
			}
			return experiment.Run(cmd.Context(), ctx.Settings, experiment.CommandSoftLabel,
				func(c context.Context, env *experiment.Env) error {
					summary, err := experiment.SoftLabel(c, env)
					if summary == nil {
						return err
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "soft labels: %d written, %d skipped, %d failed\n",
						summary.Written, summary.Skipped, summary.Failed)
					if d := summary.Discovery; d != nil {
						fmt.Fprintf(out, "discovery: %d clips scanned, %d with new labels\n", d.Scanned, len(d.Found))
					}
					return err
				})
		},
	}

	setupFlags(cmd, ctx)

	return cmd
}

func setupFlags(cmd *cobra.Command, ctx *conf.Context) {
	cmd.Flags().StringP("output", "o", "", "Directory for soft-label files")
	cmd.Flags().Bool("discover", false, "Run missing-label discovery afterwards")
	cmd.Flags().String("mode", "", "Aggregation output: segmentwise or framewise")

	ctx.BindFlags(cmd, map[string]string{
		"output":   "data.softlabeldir",
		"discover": "discovery.enabled",
		"mode":     "inference.output",
	})
}
