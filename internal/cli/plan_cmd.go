package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newPlanCmd(app *App, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Reconcile the run range and print the worklogs without submitting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runner, err := app.prepare(opts)
			if err != nil {
				return err
			}

			plan, err := runner.Plan(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			if isTerminal(out) {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(plan)
		},
	}
}
