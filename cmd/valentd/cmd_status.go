package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Query the running valentd daemon and display its identity, uptime, and device count.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := control.FetchStatus(control.ResolveSocketPath())
	if err != nil {
		return fmt.Errorf("is valentd running? %w", err)
	}

	startedAt := time.Now().Add(-time.Duration(status.UptimeSeconds * float64(time.Second)))

	fmt.Fprintf(os.Stdout, "Device:   %s (%s)\n", status.DeviceName, status.DeviceID)
	fmt.Fprintf(os.Stdout, "Running:  since %s\n", humanize.Time(startedAt))
	fmt.Fprintf(os.Stdout, "Devices:  %d\n", len(status.Devices))
	return nil
}
