package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/finrag-go/internal/client"
	"github.com/raphaelgruber/finrag-go/internal/models"
)

// recentLines is how many log lines stay visible under the progress bar.
const recentLines = 6

// eventMsg carries one streamed progress event.
type eventMsg struct {
	event models.Event
}

// streamEndMsg reports that the event stream closed.
type streamEndMsg struct {
	err error
}

// tickerState is the latest known state of one ticker.
type tickerState struct {
	step   models.Stage
	status string
	chunks int
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	tickers  []string
	state    map[string]tickerState
	finished int
	recent   []string
	progress progress.Model
	theme    Theme
	done     *models.DoneEvent
	quitting bool
	err      error
}

func newProgressModel(job *models.IngestionJob) progressModel {
	return progressModel{
		jobID:   job.ID,
		tickers: job.Tickers,
		state:   make(map[string]tickerState, len(job.Tickers)),
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m = m.apply(msg.event)
		switch ev := msg.event.(type) {
		case models.DoneEvent:
			m.done = &ev
			return m, tea.Quit
		case models.ErrorEvent:
			m.err = fmt.Errorf("%s", ev.Message)
			return m, tea.Quit
		}
		return m, nil

	case streamEndMsg:
		if msg.err != nil && m.err == nil {
			m.err = fmt.Errorf("event stream: %w", msg.err)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds an event into the per-ticker state.
func (m progressModel) apply(e models.Event) progressModel {
	switch ev := e.(type) {
	case models.HeartbeatEvent:
		return m
	case models.StepEvent:
		m.state[ev.Ticker] = tickerState{step: ev.Step, status: string(ev.Status)}
		if ev.Status == models.StepStarted {
			return m
		}
	case models.TickerDoneEvent:
		m.state[ev.Ticker] = tickerState{status: string(ev.Status), chunks: ev.Chunks}
		m.finished++
	}
	m.recent = append(m.recent, formatEvent(m.theme, e))
	if len(m.recent) > recentLines {
		m.recent = slices.Clone(m.recent[len(m.recent)-recentLines:])
	}
	return m
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'finrag jobs %s' to check status.\n", m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	var b strings.Builder
	var pct float64
	if len(m.tickers) > 0 {
		pct = float64(m.finished) / float64(len(m.tickers))
	}
	fmt.Fprintf(&b, "%s %s %d/%d tickers\n\n",
		m.theme.statusStyle().Render("[ingest]"), m.progress.ViewAs(pct), m.finished, len(m.tickers))

	for _, t := range m.tickers {
		st, ok := m.state[t]
		switch {
		case !ok:
			fmt.Fprintf(&b, "  %-6s %s\n", t, m.theme.hintStyle().Render("queued"))
		case st.step == "" && st.status == string(models.StepDone):
			fmt.Fprintf(&b, "  %-6s %s\n", t, m.theme.completedStyle().Render(fmt.Sprintf("done, %d chunks", st.chunks)))
		case st.status == string(models.StepError):
			fmt.Fprintf(&b, "  %-6s %s\n", t, m.theme.errorStyle().Render("error"))
		default:
			fmt.Fprintf(&b, "  %-6s %s (%s)\n", t, st.step, st.status)
		}
	}

	if len(m.recent) > 0 {
		b.WriteString("\n")
		for _, line := range m.recent {
			b.WriteString("  " + line + "\n")
		}
	}
	b.WriteString("\n" + m.theme.hintStyle().Render("Press Ctrl+C to continue in background") + "\n")
	return b.String()
}

// RunJobProgress follows a job with the interactive progress UI.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobProgress(ctx context.Context, c *client.Client, job *models.IngestionJob) error {
	p := tea.NewProgram(newProgressModel(job))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := c.StreamJob(ctx, job.ID, func(e models.Event) error {
			p.Send(eventMsg{event: e})
			return nil
		})
		p.Send(streamEndMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok || m.quitting {
		return nil
	}
	if m.err != nil {
		return m.err
	}
	if m.done != nil {
		fmt.Println(formatEvent(m.theme, *m.done))
	}
	return nil
}

// followPlain prints events line by line, for pipes and CI logs.
func followPlain(ctx context.Context, c *client.Client, jobID string) error {
	var failure error
	err := c.StreamJob(ctx, jobID, func(e models.Event) error {
		fmt.Println(formatEvent(defaultTheme, e))
		if ev, ok := e.(models.ErrorEvent); ok {
			failure = fmt.Errorf("job failed: %s", ev.Message)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failure
}
