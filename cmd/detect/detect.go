package detect

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/experiment"
)

// Command creates the detect command, which turns framewise ensemble
// output into onset and offset events.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [checkpoint...]",
		Short: "Detect sound events with a model ensemble",
		Long:  "Threshold the framewise ensemble output of each clip and write the resulting events as CSV. Checkpoints given as arguments replace the configured ensemble.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				ctx.Settings.Inference.Checkpoints = args
			}
			return experiment.Run(cmd.Context(), ctx.Settings, experiment.CommandDetect,
				func(c context.Context, env *experiment.Env) error {
					events, err := experiment.Detect(c, env)
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%d events written to %s\n", len(events), env.Settings.Detection.Output)
					}
					return err
				})
		},
	}

	setupFlags(cmd, ctx)

	return cmd
}

func setupFlags(cmd *cobra.Command, ctx *conf.Context) {
	cmd.Flags().Float64P("threshold", "t", 0, "Frame probability threshold")
	cmd.Flags().StringP("output", "o", "", "Events csv file")
	cmd.Flags().Bool("all-classes", false, "Threshold every class, not only declared ones")

	ctx.BindFlags(cmd, map[string]string{
		"threshold":   "detection.threshold",
		"output":      "detection.output",
		"all-classes": "detection.allclasses",
	})
}
