// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the chatterm TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// COLOR PALETTE
// =============================================================================

var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	colorSubtle  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	colorText    = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#DDDDDD"}
	colorUser    = lipgloss.AdaptiveColor{Light: "#0B7261", Dark: "#2BD4AD"}
	colorError   = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B5B"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFD866"}
	colorPending = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#777777"}
)

// =============================================================================
// THEME
// =============================================================================

// Theme holds all the styled components for the application.
type Theme struct {
	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER AND STATUS STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	StatusBar   lipgloss.Style
	StatusAuth  lipgloss.Style
	StatusAnon  lipgloss.Style
	StatusError lipgloss.Style

	// ==========================================================================
	// SIDEBAR STYLES
	// ==========================================================================

	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SessionItem     lipgloss.Style
	SessionSelected lipgloss.Style
	SessionStale    lipgloss.Style

	// ==========================================================================
	// MESSAGE STYLES
	// ==========================================================================

	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	PendingMessage   lipgloss.Style
	MessagePrefix    lipgloss.Style

	// ==========================================================================
	// INPUT AND FEEDBACK STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	Spinner        lipgloss.Style
	ErrorBox       lipgloss.Style
	HelpText       lipgloss.Style
}

// NewTheme creates the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorSubtle),
		HeaderTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent),
		StatusBar: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(colorSubtle),
		StatusAuth: lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true),
		StatusAnon: lipgloss.NewStyle().
			Foreground(colorWarning),
		StatusError: lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true),

		Sidebar: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(colorSubtle),
		SidebarTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Underline(true),
		SessionItem: lipgloss.NewStyle().
			Foreground(colorText),
		SessionSelected: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		SessionStale: lipgloss.NewStyle().
			Foreground(colorSubtle).
			Italic(true),

		UserMessage: lipgloss.NewStyle().
			Foreground(colorUser),
		AssistantMessage: lipgloss.NewStyle().
			Foreground(colorText),
		PendingMessage: lipgloss.NewStyle().
			Foreground(colorPending).
			Italic(true),
		MessagePrefix: lipgloss.NewStyle().
			Bold(true),

		InputContainer: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorSubtle),
		InputPrompt: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),
		Spinner: lipgloss.NewStyle().
			Foreground(colorAccent),
		ErrorBox: lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(colorError).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorError),
		HelpText: lipgloss.NewStyle().
			Foreground(colorSubtle),
	}
}

// Resize records the current terminal dimensions.
func (t *Theme) Resize(width, height int) {
	t.Width = width
	t.Height = height
}
