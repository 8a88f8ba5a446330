package tui

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// Prog is the running bubbletea program. Commands that finish off the UI
// thread use it to post messages back into Update.
var Prog *tea.Program

// SetProgram stores the running program so background commands can reach it.
func SetProgram(p *tea.Program) {
	Prog = p
}

// programSend forwards a message to the running program. Safe to call
// before SetProgram in tests, where the message is dropped.
func programSend(msg tea.Msg) {
	if Prog != nil {
		Prog.Send(msg)
	}
}

// MustGetwd returns the working directory, falling back to "." on error.
func MustGetwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// Run starts the interactive UI and blocks until it exits.
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts))
	SetProgram(p)
	_, err := p.Run()
	return err
}
