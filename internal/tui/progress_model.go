package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rshade/slidetiler/internal/engine/batch"
)

// progressBarWidth caps the bar on wide terminals.
const progressBarWidth = 60

// ProgressMsg carries a batch progress snapshot into the model.
type ProgressMsg struct {
	Snapshot batch.ProgressSnapshot
}

// DoneMsg tells the model the work finished.
type DoneMsg struct {
	Err error
}

// ProgressModel is the Bubble Tea model for live run progress.
//
//nolint:recvcheck // Bubble Tea requires value receivers for Init/Update/View interface methods.
type ProgressModel struct {
	title    string
	spinner  spinner.Model
	bar      progress.Model
	snapshot batch.ProgressSnapshot
	started  bool
	done     bool
	err      error
	width    int
}

// NewProgressModel creates a progress model. Until the first snapshot arrives
// only a spinner and the title are shown.
func NewProgressModel(title string) ProgressModel {
	return ProgressModel{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(progressBarWidth)),
		width:   defaultWidth,
	}
}

// Init starts the spinner (Bubble Tea interface).
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and updates the model state (Bubble Tea interface).
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(progressBarWidth, max(msg.Width-borderPadding*2, 10))
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case ProgressMsg:
		m.snapshot = msg.Snapshot
		m.started = true
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the progress line (Bubble Tea interface).
func (m ProgressModel) View() string {
	if m.done {
		return ""
	}
	if !m.started {
		return m.spinner.View() + " " + m.title + "\n"
	}

	s := m.snapshot
	ratio := 0.0
	if s.TotalItems > 0 {
		ratio = float64(s.ProcessedItems) / float64(s.TotalItems)
	}

	status := []string{
		fmt.Sprintf("batch %d/%d", min(s.CurrentBatch+1, s.TotalBatches), s.TotalBatches),
		fmt.Sprintf("%s/%s images", FormatCount(s.ProcessedItems), FormatCount(s.TotalItems)),
	}
	if s.FailedItems > 0 {
		status = append(status, ErrorStyle.Render(fmt.Sprintf("%d failed", s.FailedItems)))
	}
	if s.Remaining > 0 {
		status = append(status, "ETA "+FormatDuration(s.Remaining))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.spinner.View()+" "+HeaderStyle.Render(m.title),
		m.bar.ViewAs(ratio),
		InfoStyle.Render(strings.Join(status, " · ")),
	) + "\n"
}

// Snapshot returns the last snapshot the model received.
func (m ProgressModel) Snapshot() batch.ProgressSnapshot {
	return m.snapshot
}

// WorkFunc is the work RunProgress shows progress for. It must report
// progress through onProgress.
type WorkFunc func(ctx context.Context, onProgress batch.ProgressCallback) error

// RunProgress runs work while rendering a live progress view on out, and
// returns work's error. A failing renderer never fails the work.
func RunProgress(ctx context.Context, out io.Writer, title string, work WorkFunc, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithContext(ctx),
	}, opts...)
	p := tea.NewProgram(NewProgressModel(title), opts...)

	errCh := make(chan error, 1)
	go func() {
		err := work(ctx, func(s batch.ProgressSnapshot) {
			p.Send(ProgressMsg{Snapshot: s})
		})
		p.Send(DoneMsg{Err: err})
		errCh <- err
	}()

	if _, err := p.Run(); err != nil &&
		!errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		_, _ = fmt.Fprintf(out, "progress display stopped: %v\n", err)
	}
	return <-errCh
}
