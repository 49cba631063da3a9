package tui

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ChuLiYu/jobwatch/internal/client/conn"
	"github.com/ChuLiYu/jobwatch/internal/client/view"
	"github.com/ChuLiYu/jobwatch/internal/source"
)

var log = slog.Default()

// Run starts the connection manager and the dashboard and blocks until the
// user quits or ctx is done.
func Run(ctx context.Context, mgr *conn.Manager, commands source.CommandAPI, filter view.Filter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Info("Channel stopped", "error", err)
			}
		}()
	}
	start()

	m := New(ctx, Options{
		Mailbox:  mgr.Mailbox(),
		Commands: commands,
		Reload:   start,
		Filter:   filter,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()

	cancel()
	wg.Wait()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
