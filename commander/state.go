// Package commander implements the operator side: launching tasks and
// rendering per-executor progress, the admin client, and key utilities.
package commander

import "github.com/charmbracelet/lipgloss"

// ExecutorState is where one executor stands in a launch. States only
// move forward except for terminal failures.
type ExecutorState int

const (
	StateMatching ExecutorState = iota
	StateSubmitted
	StateAlive
	StateDisconnected
	StateError
	StateSuccess
)

func (s ExecutorState) String() string {
	switch s {
	case StateMatching:
		return "Matching"
	case StateSubmitted:
		return "Submitted"
	case StateAlive:
		return "Alive"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	case StateSuccess:
		return "Success"
	default:
		return "Unknown"
	}
}

// Color palette.
var (
	successColor = lipgloss.Color("10") // Green
	pendingColor = lipgloss.Color("11") // Yellow
	errorColor   = lipgloss.Color("9")  // Red
	neutralColor = lipgloss.Color("15") // Bright white
)

// Styles for launch output.
var (
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	pendingStyle = lipgloss.NewStyle().Foreground(pendingColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	neutralStyle = lipgloss.NewStyle().Foreground(neutralColor)
)

func (s ExecutorState) style() lipgloss.Style {
	switch s {
	case StateMatching:
		return neutralStyle
	case StateSubmitted, StateAlive:
		return pendingStyle
	case StateSuccess:
		return successStyle
	default:
		return errorStyle
	}
}

// Render returns the state name in its status color.
func (s ExecutorState) Render() string {
	return s.style().Render(s.String())
}
