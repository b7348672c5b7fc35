package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type subscriptionView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	TargetURL  string   `json:"target_url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
	Active     bool     `json:"active"`
	CreatedAt  string   `json:"created_at"`
}

func printSubscription(sub subscriptionView) {
	fmt.Printf("Subscription: %s\n", sub.ID)
	fmt.Printf("  Name: %s\n", sub.Name)
	fmt.Printf("  Target URL: %s\n", sub.TargetURL)
	if sub.Secret != "" {
		fmt.Printf("  Secret: %s\n", sub.Secret)
	}
	fmt.Printf("  Event Types: %v\n", sub.EventTypes)
	fmt.Printf("  Active: %v\n", sub.Active)
	fmt.Printf("  Created: %s\n", sub.CreatedAt)
}

// subscriptionCmd represents the subscription command
var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage webhook subscriptions",
	Long:  `Create and manage webhook subscriptions that receive event deliveries.`,
}

var (
	createSecret     string
	createEventTypes []string
)

var createSubscriptionCmd = &cobra.Command{
	Use:   "create [name] [target-url]",
	Short: "Create a new webhook subscription",
	Long: `Create a new webhook subscription. A signing secret is generated when
none is supplied.

Example:
  quayctl subscription create orders https://example.com/hook --event-types order.created,order.cancelled`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"name":       args[0],
			"target_url": args[1],
		}
		if createSecret != "" {
			body["secret"] = createSecret
		}
		if len(createEventTypes) > 0 {
			body["event_types"] = createEventTypes
		}

		var sub subscriptionView
		if err := doJSON("POST", "/v1/subscriptions", body, &sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		if outputJSON {
			printOutput(sub)
		} else {
			fmt.Println("Created subscription. Store the secret now; it is not shown again.")
			printSubscription(sub)
		}
		return nil
	},
}

var (
	listLimit  int
	listOffset int
)

var listSubscriptionsCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/subscriptions?limit=%d&offset=%d", listLimit, listOffset)
		var resp struct {
			Subscriptions []subscriptionView `json:"subscriptions"`
		}
		if err := doJSON("GET", path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			for _, sub := range resp.Subscriptions {
				printSubscription(sub)
			}
			fmt.Printf("%d subscription(s)\n", len(resp.Subscriptions))
		}
		return nil
	},
}

var getSubscriptionCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sub subscriptionView
		if err := doJSON("GET", "/v1/subscriptions/"+url.PathEscape(args[0]), nil, &sub); err != nil {
			return fmt.Errorf("failed to get subscription: %w", err)
		}

		if outputJSON {
			printOutput(sub)
		} else {
			printSubscription(sub)
		}
		return nil
	},
}

var (
	updateName       string
	updateTargetURL  string
	updateSecret     string
	updateEventTypes []string
	updateActive     string
)

var updateSubscriptionCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Update a webhook subscription",
	Long: `Update fields on a webhook subscription. Only the supplied flags change.

Example:
  quayctl subscription update 4f1c... --active=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("name") {
			body["name"] = updateName
		}
		if cmd.Flags().Changed("target-url") {
			body["target_url"] = updateTargetURL
		}
		if cmd.Flags().Changed("secret") {
			body["secret"] = updateSecret
		}
		if cmd.Flags().Changed("event-types") {
			body["event_types"] = updateEventTypes
		}
		if cmd.Flags().Changed("active") {
			active, err := strconv.ParseBool(updateActive)
			if err != nil {
				return fmt.Errorf("--active must be true or false")
			}
			body["active"] = active
		}
		if len(body) == 0 {
			return fmt.Errorf("nothing to update: pass at least one field flag")
		}

		var sub subscriptionView
		if err := doJSON("PATCH", "/v1/subscriptions/"+url.PathEscape(args[0]), body, &sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		if outputJSON {
			printOutput(sub)
		} else {
			fmt.Println("Updated subscription.")
			printSubscription(sub)
		}
		return nil
	},
}

var deleteSubscriptionCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doJSON("DELETE", "/v1/subscriptions/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		fmt.Printf("Deleted subscription %s\n", args[0])
		return nil
	},
}

var subscriptionDeliveriesCmd = &cobra.Command{
	Use:   "deliveries [id]",
	Short: "List recent deliveries for a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/subscriptions/%s/deliveries?limit=%d", url.PathEscape(args[0]), listLimit)
		var resp struct {
			Deliveries []deliveryView `json:"deliveries"`
		}
		if err := doJSON("GET", path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			for _, d := range resp.Deliveries {
				printDelivery(d)
			}
			fmt.Printf("%d delivery(ies)\n", len(resp.Deliveries))
		}
		return nil
	},
}

var subscriptionAttemptsCmd = &cobra.Command{
	Use:   "attempts [id]",
	Short: "List recent delivery attempts for a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/subscriptions/%s/attempts?limit=%d", url.PathEscape(args[0]), listLimit)
		var resp struct {
			Attempts []attemptView `json:"attempts"`
		}
		if err := doJSON("GET", path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list attempts: %w", err)
		}

		if outputJSON {
			printOutput(resp)
		} else {
			for _, a := range resp.Attempts {
				printAttempt(a)
			}
			fmt.Printf("%d attempt(s)\n", len(resp.Attempts))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subscriptionCmd)
	subscriptionCmd.AddCommand(createSubscriptionCmd)
	subscriptionCmd.AddCommand(listSubscriptionsCmd)
	subscriptionCmd.AddCommand(getSubscriptionCmd)
	subscriptionCmd.AddCommand(updateSubscriptionCmd)
	subscriptionCmd.AddCommand(deleteSubscriptionCmd)
	subscriptionCmd.AddCommand(subscriptionDeliveriesCmd)
	subscriptionCmd.AddCommand(subscriptionAttemptsCmd)

	createSubscriptionCmd.Flags().StringVar(&createSecret, "secret", "", "signing secret (generated when omitted)")
	createSubscriptionCmd.Flags().StringSliceVar(&createEventTypes, "event-types", nil, "accepted event types (empty accepts all)")

	listSubscriptionsCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum results")
	listSubscriptionsCmd.Flags().IntVar(&listOffset, "offset", 0, "result offset")
	subscriptionDeliveriesCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum results")
	subscriptionAttemptsCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum results")

	updateSubscriptionCmd.Flags().StringVar(&updateName, "name", "", "new name")
	updateSubscriptionCmd.Flags().StringVar(&updateTargetURL, "target-url", "", "new target URL")
	updateSubscriptionCmd.Flags().StringVar(&updateSecret, "secret", "", "new signing secret")
	updateSubscriptionCmd.Flags().StringSliceVar(&updateEventTypes, "event-types", nil, "new accepted event types")
	updateSubscriptionCmd.Flags().StringVar(&updateActive, "active", "", "set active state (true/false)")
}
