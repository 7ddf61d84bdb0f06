package cli

import (
	"github.com/spf13/cobra"
)

func newServeCmd(app *App, opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only preview of the reconciled timeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, runner, err := app.prepare(opts)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Serve.Listen = listen
			}
			return app.Serve(cmd.Context(), cfg, runner)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides serve.listen)")

	return cmd
}
