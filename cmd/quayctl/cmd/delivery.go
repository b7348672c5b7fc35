package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type deliveryView struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	Payload        map[string]any `json:"payload"`
	EventType      string         `json:"event_type,omitempty"`
	Status         string         `json:"status"`
	AttemptsCount  int            `json:"attempts_count"`
	CreatedAt      string         `json:"created_at"`
	ExpiresAt      string         `json:"expires_at"`
	Attempts       []attemptView  `json:"attempts,omitempty"`
}

type attemptView struct {
	AttemptNumber int    `json:"attempt_number"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	StatusCode    *int   `json:"status_code,omitempty"`
	Response      string `json:"response,omitempty"`
	Error         string `json:"error,omitempty"`
	NextRetryAt   string `json:"next_retry_at,omitempty"`
}

func printDelivery(d deliveryView) {
	fmt.Printf("Delivery: %s\n", d.ID)
	fmt.Printf("  Subscription: %s\n", d.SubscriptionID)
	fmt.Printf("  Event Type: %s\n", d.EventType)
	fmt.Printf("  Status: %s\n", d.Status)
	fmt.Printf("  Attempts: %d\n", d.AttemptsCount)
	fmt.Printf("  Created: %s\n", d.CreatedAt)
	fmt.Printf("  Expires: %s\n", d.ExpiresAt)
}

func printAttempt(a attemptView) {
	fmt.Printf("  Attempt %d [%s] at %s\n", a.AttemptNumber, a.Status, a.Timestamp)
	if a.StatusCode != nil {
		fmt.Printf("    HTTP status: %d\n", *a.StatusCode)
	}
	if a.Error != "" {
		fmt.Printf("    Error: %s\n", a.Error)
	}
	if a.NextRetryAt != "" {
		fmt.Printf("    Next retry: %s\n", a.NextRetryAt)
	}
}

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect deliveries",
	Long:  `Inspect a delivery and its attempt history.`,
}

var getDeliveryCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a delivery with its attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var d deliveryView
		if err := doJSON("GET", "/v1/deliveries/"+url.PathEscape(args[0]), nil, &d); err != nil {
			return fmt.Errorf("failed to get delivery: %w", err)
		}

		if outputJSON {
			printOutput(d)
		} else {
			printDelivery(d)
			for _, a := range d.Attempts {
				printAttempt(a)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(getDeliveryCmd)
}
