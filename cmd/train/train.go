package train

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/experiment"
)

// Command creates the train command, which runs k-fold training with EMA
// shadow models.
func Command(ctx *conf.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the sound event detector",
		Long:  "Split the metadata into folds and train one model per selected fold, keeping the best live and EMA checkpoints.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return experiment.Run(cmd.Context(), ctx.Settings, experiment.CommandTrain,
				func(c context.Context, env *experiment.Env) error {
					results, err := experiment.Train(c, env)
					for _, r := range results {
						fmt.Fprintf(cmd.OutOrStdout(), "fold %d: best %s %.4f at epoch %d (%s)\n",
							r.Fold, env.Settings.Train.MainMetric, r.BestMetric, r.BestEpoch, r.Dir)
					}
					return err
				})
		},
	}

	setupFlags(cmd, ctx)

	return cmd
}

func setupFlags(cmd *cobra.Command, ctx *conf.Context) {
	cmd.Flags().IntSlice("folds", nil, "Folds to train, default all")
	cmd.Flags().Int("epochs", 0, "Number of epochs per fold")
	cmd.Flags().String("logdir", "", "Directory for fold checkpoints")
	cmd.Flags().Uint64("seed", 0, "Seed for crops, shuffling and fold assignment")

	ctx.BindFlags(cmd, map[string]string{
		"folds":  "split.folds",
		"epochs": "train.epochs",
		"logdir": "main.logdir",
		"seed":   "main.seed",
	})
}
