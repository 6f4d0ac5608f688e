package cmd

import (
	"fmt"
	"io"


	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts and when the service was initialized",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout(), serverAddr)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(out io.Writer, server string) error {
	client, err := newAPIClient(server)
	if err != nil {
		return err
	}
	status, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized: %s\n", status.InitializedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Total:       %d\n", status.Total)
	for _, s := range taskStatuses {
		fmt.Fprintf(out, "  %-10s %d\n", s, status.ByStatus[s])
	}
	return nil
}
