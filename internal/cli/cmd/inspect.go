package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var whereCmd = &cobra.Command{
	Use:   "where broker-address",
	Short: "print the slot a broker would hand out",
	Long: `follows the broker's redirects the same way send and fetch do and
prints the address of the slot that finally accepts the connection`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		final, err := newConnector().Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), final)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status broker-address",
	Short: "show a broker's slot table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newConnector().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tSTATE")
		for _, s := range status.Slots {
			state := "free"
			switch {
			case s.Busy:
				state = "busy"
			case s.Reserved:
				state = "reserved"
			}
			fmt.Fprintf(w, "%d\t%s\n", s.Port, state)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d slots free\n", status.Free(), len(status.Slots))
		for _, m := range status.Mirrors {
			fmt.Fprintf(cmd.OutOrStdout(), "mirror %s\n", m)
		}
		return nil
	},
}
