package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of the active toolset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCONFIRM\tDESCRIPTION")
		for _, t := range a.registry.Tools() {
			confirm := ""
			if t.RequiresConfirmation() {
				confirm = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name(), confirm, t.Description())
		}
		return w.Flush()
	},
}
