package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fenilsonani/organizer/internal/progress"
	"github.com/fenilsonani/organizer/internal/ui/models"
)

// RunInteractive runs work under a full-screen progress view fed by bus.
// Pressing q calls cancel; the view stays up until work returns.
func RunInteractive(title string, bus *progress.Bus, cancel func(), work func() error, opts ...tea.ProgramOption) error {
	m := models.NewRunModel(title, cancel)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	events := bus.Subscribe()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for e := range events {
			p.Send(models.EventMsg{Event: e})
		}
	}()

	result := make(chan error, 1)
	go func() {
		err := work()
		bus.Unsubscribe(events)
		<-forwarded
		result <- err
		p.Send(models.DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		if cancel != nil {
			cancel()
		}
		<-result
		return fmt.Errorf("error running interactive mode: %w", err)
	}
	return <-result
}
