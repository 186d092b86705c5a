package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/control"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known devices",
	Long:  `List every device valentd knows about, paired or not, and whether it is currently connected.`,
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	status, err := control.FetchStatus(control.ResolveSocketPath())
	if err != nil {
		return fmt.Errorf("is valentd running? %w", err)
	}

	if len(status.Devices) == 0 {
		fmt.Println("No devices known yet.")
		return nil
	}

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorYellow)).
		Bold(true)
	borderStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(colorBg4))
	cellStyle := lipgloss.NewStyle().PaddingRight(2)

	var rows [][]string
	for _, d := range status.Devices {
		pairState := d.PairState
		if d.PairState == "paired" {
			pairState = styleConnected.Render(d.PairState)
		} else if d.PairState == "unpaired" {
			pairState = styleUnpaired.Render(d.PairState)
		}

		connected := styleUnpaired.Render("no")
		if d.Connected {
			connected = styleConnected.Render("yes")
		}

		rows = append(rows, []string{d.ID, d.Name, d.Type, pairState, connected})
	}

	t := ltable.New().
		Headers("ID", "NAME", "TYPE", "PAIR STATE", "CONNECTED").
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerStyle.PaddingRight(2)
			}
			return cellStyle
		})

	fmt.Println(t)
	return nil
}
