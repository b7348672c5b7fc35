package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [subscription-id] [json-payload]",
	Short: "Ingest an event for delivery",
	Long: `Submit a JSON payload for delivery to a subscription. The payload's
event_type field, when present, is matched against the subscription's
accepted event types.

Example:
  quayctl ingest 4f1c... '{"event_type":"order.created","order_id":"A-17"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}

		var resp struct {
			DeliveryID string `json:"delivery_id"`
			Status     string `json:"status"`
		}
		if err := doJSON("POST", "/v1/ingest/"+url.PathEscape(args[0]), payload, &resp); err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			fmt.Printf("Accepted delivery %s (%s)\n", resp.DeliveryID, resp.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
