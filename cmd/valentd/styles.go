package main

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorYellow  = "#E3D367"
	colorGray    = "#82878B"
	colorGrayDim = "#55626D"
	colorFg      = "#E1E2E3"
	colorBg4     = "#414B53"
	colorGreen   = "#9CD57B"
	colorRed     = "#F76C7C"
)

var (
	// Status styles for the devices table.
	styleConnected = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	styleUnpaired  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
)

// customHuhTheme returns a huh theme using the daemon's palette.
func customHuhTheme() *huh.Theme {
	t := huh.ThemeDracula()

	yellow := lipgloss.Color(colorYellow)
	gray := lipgloss.Color(colorGray)
	fg := lipgloss.Color(colorFg)

	t.Focused.Base = t.Focused.Base.BorderForeground(yellow).Foreground(fg)
	t.Blurred.Base = t.Blurred.Base.BorderForeground(gray).Foreground(fg)
	t.Focused.Title = t.Focused.Title.Foreground(yellow).Bold(true)
	t.Blurred.Title = t.Blurred.Title.Foreground(gray)
	t.Focused.Description = t.Focused.Description.Foreground(gray)
	t.Blurred.Description = t.Blurred.Description.Foreground(lipgloss.Color(colorGrayDim))

	return t
}
