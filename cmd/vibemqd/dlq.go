package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bobsans/vibemq/internal/dispatcher"
	"github.com/Bobsans/vibemq/internal/output"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect a queue's dead-letter buffer",
	}
	cmd.AddCommand(dlqListCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List dead-lettered messages for a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialAdmin()
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.ListDeadLetters(args[0])
			if err != nil {
				return err
			}

			var views []dispatcher.DeadLetterView
			if err := json.Unmarshal(reply.Payload, &views); err != nil {
				return fmt.Errorf("decode dead letters: %w", err)
			}

			rows := make([]output.DeadLetterRow, len(views))
			for i, v := range views {
				rows[i] = output.DeadLetterRow{
					ID:        v.ID,
					MessageID: v.MessageID,
					Queue:     v.Queue,
					Reason:    v.Reason,
					FailedAt:  v.FailedAt.Format("2006-01-02T15:04:05Z07:00"),
				}
			}

			p := output.NewPrinter(output.ParseFormat(outputFormat))
			return p.PrintDeadLetters(rows)
		},
	}
	addAdminFlags(cmd)
	return cmd
}
