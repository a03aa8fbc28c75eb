package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bobsans/vibemq/internal/client"
	"github.com/Bobsans/vibemq/internal/dispatcher"
	"github.com/Bobsans/vibemq/internal/output"
)

var (
	adminAddr      string
	adminAuthToken string
	outputFormat   string
)

func addAdminFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminAddr, "addr", ":7711", "broker TCP address")
	cmd.Flags().StringVar(&adminAuthToken, "auth-token", "", "shared auth token, if the broker requires one")
	cmd.Flags().StringVar(&outputFormat, "output", "table", "output format: table, wide, json, yaml")
}

func dialAdmin() (*client.Client, error) {
	return client.Dial(adminAddr, adminAuthToken, 5*time.Second)
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage broker queues",
	}
	cmd.AddCommand(queueListCmd(), queueInfoCmd(), queueCreateCmd(), queueDeleteCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAdmin()
			if err != nil {
				return err
			}
			defer c.Close()

			names, err := c.ListQueues()
			if err != nil {
				return err
			}

			rows := make([]output.QueueRow, 0, len(names))
			for _, name := range names {
				reply, err := c.QueueInfo(name)
				if err != nil {
					continue
				}
				var view dispatcher.QueueInfoView
				if err := json.Unmarshal(reply.Payload, &view); err != nil {
					continue
				}
				rows = append(rows, output.QueueRow{
					Name:             view.Name,
					Mode:             string(view.Mode),
					Length:           view.Length,
					MaxQueueSize:     view.MaxQueueSize,
					OverflowStrategy: string(view.OverflowStrategy),
					DeadLetterLength: view.DeadLetterLength,
					Created:          view.CreatedAt.Format(time.RFC3339),
				})
			}

			p := output.NewPrinter(output.ParseFormat(outputFormat))
			return p.PrintQueues(rows)
		},
	}
	addAdminFlags(cmd)
	return cmd
}

func queueInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show detail for a single queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAdmin()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.QueueInfo(args[0])
			if err != nil {
				return err
			}
			var view dispatcher.QueueInfoView
			if err := json.Unmarshal(reply.Payload, &view); err != nil {
				return fmt.Errorf("decode queue info: %w", err)
			}

			p := output.NewPrinter(output.ParseFormat(outputFormat))
			return p.PrintQueueDetail(output.QueueDetail{
				Name:                  view.Name,
				Mode:                  string(view.Mode),
				MaxQueueSize:          view.MaxQueueSize,
				OverflowStrategy:      string(view.OverflowStrategy),
				Length:                view.Length,
				EnableDeadLetterQueue: view.EnableDeadLetterQueue,
				MaxRetryAttempts:      view.MaxRetryAttempts,
				DeadLetterLength:      view.DeadLetterLength,
				Created:               view.CreatedAt.Format(time.RFC3339),
			})
		},
	}
	addAdminFlags(cmd)
	return cmd
}

func queueCreateCmd() *cobra.Command {
	var (
		mode             string
		maxQueueSize     int
		messageTTL       string
		enableDLQ        bool
		overflowStrategy string
		maxRetryAttempts int
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Declare a queue with explicit options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAdmin()
			if err != nil {
				return err
			}
			defer c.Close()

			payload, err := json.Marshal(map[string]interface{}{
				"mode":                  mode,
				"maxQueueSize":          maxQueueSize,
				"messageTtl":            messageTTL,
				"enableDeadLetterQueue": enableDLQ,
				"overflowStrategy":      overflowStrategy,
				"maxRetryAttempts":      maxRetryAttempts,
			})
			if err != nil {
				return err
			}

			if err := c.CreateQueue(args[0], payload); err != nil {
				return err
			}

			p := output.NewPrinter(output.ParseFormat(outputFormat))
			p.Success("queue %q created", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "RoundRobin", "RoundRobin, FanOutWithAck, FanOutWithoutAck, PriorityBased")
	cmd.Flags().IntVar(&maxQueueSize, "max-size", 10000, "maximum buffered messages")
	cmd.Flags().StringVar(&messageTTL, "ttl", "", "message TTL, e.g. 5m (empty disables expiration)")
	cmd.Flags().BoolVar(&enableDLQ, "enable-dlq", false, "dead-letter exhausted or expired messages")
	cmd.Flags().StringVar(&overflowStrategy, "overflow", "DropOldest", "DropOldest, DropNewest, BlockPublisher, RedirectToDlq")
	cmd.Flags().IntVar(&maxRetryAttempts, "max-retries", 3, "max delivery attempts before dead-lettering")
	addAdminFlags(cmd)
	return cmd
}

func queueDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAdmin()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteQueue(args[0]); err != nil {
				return err
			}

			p := output.NewPrinter(output.ParseFormat(outputFormat))
			p.Success("queue %q deleted", args[0])
			return nil
		},
	}
	addAdminFlags(cmd)
	return cmd
}
