package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/control"
)

var unpairCmd = &cobra.Command{
	Use:   "unpair <device-id>",
	Short: "Unpair a device",
	Long:  `Revoke pairing with a device, removing its trusted certificate.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUnpair,
}

func runUnpair(cmd *cobra.Command, args []string) error {
	deviceID := args[0]

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Unpair %q?", deviceID)).
				Description("The device will need to pair again before it can exchange packets.").
				Affirmative("Unpair").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(customHuhTheme())

	if err := form.Run(); err != nil {
		return fmt.Errorf("cancelled")
	}
	if !confirmed {
		fmt.Println("Unpair cancelled.")
		return nil
	}

	if err := control.SendUnpair(control.ResolveSocketPath(), deviceID); err != nil {
		return fmt.Errorf("unpairing %s: %w", deviceID, err)
	}

	fmt.Printf("Unpaired %s.\n", deviceID)
	return nil
}
