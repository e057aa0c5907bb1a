package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/finrag-go/internal/models"
	"golang.org/x/term"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Warning lipgloss.Color
	Hint    lipgloss.Color

	// Plain disables all styling, for output written to files.
	Plain bool
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Warning: lipgloss.Color("#FFAF00"), // amber
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) hintStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) headingStyle() lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Bold(true).Underline(true)
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatEvent renders one progress event as a log line.
func formatEvent(t Theme, e models.Event) string {
	switch ev := e.(type) {
	case models.PhaseEvent:
		return t.statusStyle().Render(fmt.Sprintf("[%s]", ev.Phase)) + " " + ev.Message
	case models.StepEvent:
		line := fmt.Sprintf("%-6s %-8s %-7s %s", ev.Ticker, ev.Step, ev.Status, ev.Message)
		if ev.Status == models.StepError {
			return t.errorStyle().Render(line)
		}
		return line
	case models.TickerStartEvent:
		return t.statusStyle().Render(fmt.Sprintf("%s: %d filings", ev.Ticker, ev.TotalFilings))
	case models.TickerDoneEvent:
		if ev.Status == models.StepError {
			return t.errorStyle().Render(fmt.Sprintf("✗ %s failed: %s", ev.Ticker, ev.Message))
		}
		return t.completedStyle().Render(fmt.Sprintf("✓ %s: %d chunks", ev.Ticker, ev.Chunks))
	case models.WarningEvent:
		return t.warningStyle().Render("! " + strings.TrimSpace(ev.Ticker+" "+ev.Message))
	case models.HeartbeatEvent:
		return t.hintStyle().Render(fmt.Sprintf("… still working (%ds)", ev.ElapsedSeconds))
	case models.DoneEvent:
		msg := fmt.Sprintf("✓ Done: %d chunks", ev.TotalChunks)
		if len(ev.FailedTickers) > 0 {
			msg += fmt.Sprintf(" (failed: %s)", strings.Join(ev.FailedTickers, ", "))
		}
		return t.completedStyle().Render(msg)
	case models.ErrorEvent:
		return t.errorStyle().Render("✗ Job failed: " + ev.Message)
	}
	return fmt.Sprintf("%v", e)
}
