package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rshade/slidetiler/internal/manifest"
)

// maxListedFailures limits the failure list in the summary box.
const maxListedFailures = 10

// RunSummary is what the final summary box shows.
type RunSummary struct {
	RunID    string
	Output   string // empty when no archive was written
	Location string // published object, if any
	Duration time.Duration
	Manifest *manifest.Manifest
	Err      error
}

// RenderSummary renders the end-of-run summary.
func RenderSummary(s RunSummary, width int) string {
	if width <= 0 {
		width = defaultWidth
	}

	rows := []string{HeaderStyle.Render("slidetiler run " + s.RunID)}

	if m := s.Manifest; m != nil {
		sum := m.Summary
		rows = append(rows,
			field("images", FormatCount(sum.Total)),
			field("succeeded", OKStyle.Render(FormatCount(sum.Succeeded))),
			field("failed", failedCount(sum.Failed)),
			field("tiles", FormatCount(sum.Tiles)),
			field("batches", fmt.Sprintf("%d x %d (%s)", m.Batch.Batches, m.Batch.Size, m.Batch.Strategy)),
		)
	}
	rows = append(rows, field("duration", FormatDuration(s.Duration)))
	if s.Output != "" {
		rows = append(rows, field("output", s.Output))
	}
	if s.Location != "" {
		rows = append(rows, field("published", s.Location))
	}
	if s.Err != nil {
		rows = append(rows, field("error", ErrorStyle.Render(s.Err.Error())))
	}

	if s.Manifest != nil {
		if failures := s.Manifest.Failures(); len(failures) > 0 {
			rows = append(rows, "", WarningStyle.Render("Failed images"))
			rows = append(rows, failureLines(failures, width)...)
		}
	}

	return BoxStyle.Width(width-borderPadding).Render(lipgloss.JoinVertical(lipgloss.Left, rows...)) + "\n"
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), ValueStyle.Render(value))
}

func failedCount(n int) string {
	if n == 0 {
		return FormatCount(0)
	}
	return ErrorStyle.Render(FormatCount(n))
}

func failureLines(failures []manifest.Image, width int) []string {
	lines := make([]string, 0, min(len(failures), maxListedFailures)+1)
	for i, img := range failures {
		if i == maxListedFailures {
			lines = append(lines, InfoStyle.Render(fmt.Sprintf("... and %d more", len(failures)-maxListedFailures)))
			break
		}
		line := fmt.Sprintf("  %s [%s]", img.Name, img.Reason)
		if msg := firstLine(img.Error); msg != "" {
			line += " " + msg
		}
		lines = append(lines, truncate(line, width-borderPadding*2))
	}
	return lines
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
