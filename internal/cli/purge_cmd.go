package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tempofill/internal/pipeline"
)

func newPurgeCmd(app *App, opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every worklog in the run range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, runner, err := app.prepare(opts)
			if err != nil {
				return err
			}

			if !yes {
				ok, err := app.confirm(cmd, purgePrompt(runner))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			n, err := runner.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d worklogs\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func purgePrompt(runner *pipeline.Runner) string {
	last := runner.Range.To.AddDate(0, 0, -1)
	return fmt.Sprintf("Delete all Tempo worklogs from %s to %s?",
		runner.Range.From.Format(time.DateOnly), last.Format(time.DateOnly))
}

// confirm asks a yes/no question on stdin. Non-interactive input is refused
// rather than read.
func (app *App) confirm(cmd *cobra.Command, question string) (bool, error) {
	if !app.IsInteractive() {
		return false, errors.New("refusing to purge without --yes on non-interactive input")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)

	line, err := bufio.NewReader(app.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
