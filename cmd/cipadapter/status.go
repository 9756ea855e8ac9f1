package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tturner/cipadapter/internal/api"
	cipErrors "github.com/tturner/cipadapter/internal/errors"
	"github.com/tturner/cipadapter/internal/tui"
)

const defaultAPIURL = "http://127.0.0.1:8080"

func newStatusCmd() *cobra.Command {
	var url string
	var width int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running adapter",
		Long: `Query a running adapter's status API once and print its identity, sessions,
connections, assemblies and Connection Manager counters.

The adapter must run with the status API enabled (--api or api.enable).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(url)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			snap, err := client.Status(ctx)
			if err != nil {
				return cipErrors.WrapAPIError(err, client.Base())
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderStatus(snap, width, tui.DefaultStyles))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "api", defaultAPIURL, "Status API base URL")
	cmd.Flags().IntVar(&width, "width", 100, "Output width")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var url string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of a running adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(url)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			_, err := client.Status(ctx)
			cancel()
			if err != nil {
				return cipErrors.WrapAPIError(err, client.Base())
			}
			return tui.Run(cmd.Context(), client, interval)
		},
	}
	cmd.Flags().StringVar(&url, "api", defaultAPIURL, "Status API base URL")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval")
	return cmd
}
