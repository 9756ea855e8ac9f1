package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the live dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, source StatusSource, interval time.Duration) error {
	program := tea.NewProgram(NewModel(source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
