package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the quayhook service",
	Long:  `Send a ping request to verify the quayhook API is running and accessible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Message string `json:"message"`
		}
		if err := doJSON("GET", "/v1/ping", nil, &resp); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Pong! Service is running: %s\n", resp.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
