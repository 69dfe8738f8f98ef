// Package ui holds the lipgloss palette used for setup-mode terminal output.
//
// Everything styled here is written to stderr; stdout belongs to the MCP protocol.
package ui
