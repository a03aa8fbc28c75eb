package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vibemqd",
		Short: "VibeMQ - in-memory message broker",
		Long:  "A lightweight in-memory message broker speaking a length-prefixed binary protocol over TCP",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, flags/env override)")

	rootCmd.AddCommand(
		serveCmd(),
		queueCmd(),
		dlqCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("vibemqd dev")
			return nil
		},
	}
}
