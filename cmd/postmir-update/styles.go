// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/postmir/postmir-update/internal/config"
)

// Color palette shared by all CLI output.
const (
	// ColorPrimary is purple - used for titles and version numbers.
	ColorPrimary = lipgloss.Color("#7C3AED")

	// ColorMuted is gray - used for labels and secondary text.
	ColorMuted = lipgloss.Color("#6B7280")

	// ColorSuccess is green - used for verified artifacts and completed steps.
	ColorSuccess = lipgloss.Color("#10B981")

	// ColorError is red - used for failures.
	ColorError = lipgloss.Color("#EF4444")

	// ColorWarning is amber - used for available updates and caution notes.
	ColorWarning = lipgloss.Color("#F59E0B")

	// ColorHighlight is blue - used for commands, paths and URLs.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for success messages and positive indicators.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for error messages and failure indicators.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warning messages and caution indicators.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for command names, paths and URLs.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// labelStyle pads field labels so values line up.
	labelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(18)
)

// field renders an aligned "label value" line.
func field(label, value string) string {
	return labelStyle.Render(label+":") + value
}

// glamourStyle maps the configured color scheme onto a glamour style name.
func glamourStyle(cs config.ColorScheme) string {
	switch cs {
	case config.ColorSchemeDark:
		return "dark"
	case config.ColorSchemeLight:
		return "light"
	case config.ColorSchemeAuto:
		return "auto"
	}
	return "auto"
}
