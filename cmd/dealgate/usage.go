package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Show recorded token usage and cost for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Usage.Driver != "sqlite" {
			return errors.New("usage totals need the sqlite usage driver, configured driver is %q", cfg.Usage.Driver)
		}
		store, err := usage.OpenSQLite(cfg.Usage.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Totals(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user:          %s\ninput tokens:  %d\noutput tokens: %d\ntool calls:    %d\ncost:          $%.4f\n",
			args[0], rec.InputTokens, rec.OutputTokens, rec.ToolCalls, rec.Cost)
		return nil
	},
}
