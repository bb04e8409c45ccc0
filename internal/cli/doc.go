// Package cli holds the terminal presentation for the silence-detector
// command: lipgloss styles, the kong help printer and recording reports.
package cli
