package prepare

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/experiment"
)

// Command creates the prepare command, which resamples the training audio
// into mono WAV files.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Resample training audio",
		Long:  "Decode every clip in the metadata, resample it to the target rate and write it as WAV. Files that fail are added to the skip list.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return experiment.Run(cmd.Context(), ctx.Settings, experiment.CommandPrepare,
				func(c context.Context, env *experiment.Env) error {
					sum, err := experiment.Prepare(c, env)
					fmt.Fprintf(cmd.OutOrStdout(), "prepared %d of %d clips (%d existing, %d failed) in %s\n",
						sum.Converted, sum.Total, sum.Existing, sum.Failed, sum.Elapsed.Round(time.Millisecond))
					return err
				})
		},
	}

	setupFlags(cmd, ctx)

	return cmd
}

func setupFlags(cmd *cobra.Command, ctx *conf.Context) {
	cmd.Flags().StringP("input", "i", "", "Directory of source audio")
	cmd.Flags().StringP("output", "o", "", "Directory for resampled audio")
	cmd.Flags().IntP("rate", "r", 0, "Target sample rate in Hz")
	cmd.Flags().IntP("workers", "w", 0, "Concurrent conversions, 0 = derive from cpu")

	ctx.BindFlags(cmd, map[string]string{
		"input":   "prepare.inputdir",
		"output":  "prepare.outputdir",
		"rate":    "prepare.samplerate",
		"workers": "prepare.workers",
	})
}
