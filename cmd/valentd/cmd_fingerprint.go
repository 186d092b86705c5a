package main

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/certstore"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Display this device's identity fingerprint",
	Long: `Print this device's certificate fingerprint and a QR code encoding
it, for out-of-band verification during pairing.`,
	RunE: runFingerprint,
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	identity, err := certstore.LoadOrGenerateIdentity(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	fp := identity.Fingerprint()

	qr, err := qrcode.New(fp, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generating QR code: %w", err)
	}

	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	fmt.Fprintf(os.Stdout, "Device ID:   %s\n", identity.DeviceID)
	fmt.Fprintf(os.Stdout, "Fingerprint: %s\n", fp)
	return nil
}
