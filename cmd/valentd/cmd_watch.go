package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/control"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream device events",
	Long:  `Connect to the running valentd daemon and print device add/update/remove events as they happen.`,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := control.WatchEvents(ctx, control.ResolveSocketPath())
	if err != nil {
		return fmt.Errorf("is valentd running? %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Printf("%s\t%s\n", ev.Kind, ev.DeviceID)
		}
	}
}
