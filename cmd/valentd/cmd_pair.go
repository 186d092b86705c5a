package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/control"
)

var pairCmd = &cobra.Command{
	Use:   "pair <device-id>",
	Short: "Pair with a device",
	Long: `Request pairing with a device, or accept a pending pairing request
from it if one is already waiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	deviceID := args[0]

	status, err := control.FetchStatus(control.ResolveSocketPath())
	if err != nil {
		return fmt.Errorf("is valentd running? %w", err)
	}

	var name string
	for _, d := range status.Devices {
		if d.ID == deviceID {
			name = d.Name
		}
	}
	if name == "" {
		name = deviceID
	}

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Pair with %q?", name)).
				Description("Verify this device's fingerprint out-of-band before confirming.").
				Affirmative("Pair").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(customHuhTheme())

	if err := form.Run(); err != nil {
		return fmt.Errorf("cancelled")
	}
	if !confirmed {
		fmt.Println("Pairing cancelled.")
		return nil
	}

	if err := control.SendPair(control.ResolveSocketPath(), deviceID); err != nil {
		return fmt.Errorf("pairing %s: %w", deviceID, err)
	}

	fmt.Printf("Pairing request sent to %s.\n", name)
	return nil
}
