package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFillCmd(app *App, opts *rootOptions) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Reconcile the run range and submit the worklogs to Tempo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runner, err := app.prepare(opts)
			if err != nil {
				return err
			}

			plan, res, err := runner.Fill(cmd.Context(), purge)
			if err != nil {
				if res.Submitted > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d worklogs were submitted before the failure (run %s)\n",
						res.Submitted, len(plan.Worklogs), plan.RunID)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d worklogs (run %s)\n", res.Submitted, plan.RunID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Delete existing worklogs in the range before submitting")

	return cmd
}
