package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/arcana-app/arcana-go/internal/client"
	"github.com/arcana-app/arcana-go/internal/models"
)

// maxEventLines is how many recent event lines the watcher keeps on screen.
const maxEventLines = 8

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a reading job's live event stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatchUI(apiClient, args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// Theme holds the color scheme for the watch display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// streamEventMsg carries one event from the job's feed.
type streamEventMsg models.Event

// streamDoneMsg signals the feed closed, with the reason when it failed.
type streamDoneMsg struct{ err error }

// viewMsg carries the job's final view fetched after the feed closed.
type viewMsg struct {
	view *models.JobView
	err  error
}

// watchModel is the bubbletea model for the live stream watcher.
type watchModel struct {
	client   *client.Client
	jobID    string
	events   chan models.Event
	streamCh chan error
	cancel   context.CancelFunc

	progress progress.Model
	theme    Theme
	lines    []string
	stage    string
	pct      float64
	view     *models.JobView
	done     bool
	quitting bool
	err      error
}

// newWatchModel creates a watch model and starts the stream reader.
func newWatchModel(c *client.Client, jobID string) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan models.Event, 16)
	streamCh := make(chan error, 1)
	go func() {
		defer close(events)
		streamCh <- c.Stream(ctx, jobID, func(ev models.Event) error {
			events <- ev
			return nil
		})
	}()

	return watchModel{
		client:   c,
		jobID:    jobID,
		events:   events,
		streamCh: streamCh,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
		stage:    "connecting",
	}
}

// Init returns the initial commands (start consuming the stream).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.nextEvent(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case streamEventMsg:
		ev := models.Event(msg)
		m.lines = append(m.lines, client.FormatEvent(ev))
		if len(m.lines) > maxEventLines {
			m.lines = m.lines[len(m.lines)-maxEventLines:]
		}
		m.stage, m.pct = stageOf(ev, m.stage, m.pct)
		return m, m.nextEvent()

	case streamDoneMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("stream failed: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.pct = 1.0
		return m, m.fetchView()

	case viewMsg:
		m.done = true
		if msg.err != nil {
			m.err = fmt.Errorf("fetch final state: %w", msg.err)
		} else {
			m.view = msg.view
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the watch display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.stage))
	bar := m.progress.ViewAs(m.pct)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching; the job keeps running")

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", status, bar)
	for _, line := range m.lines {
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("\n" + hint + "\n")
	return b.String()
}

// finalView renders the completion message.
func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'arcana jobs %s' to check it.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	if m.view == nil {
		return m.theme.completedStyle().Render("✓ Stream complete\n")
	}

	var b strings.Builder
	switch m.view.State {
	case models.StateCompleted:
		b.WriteString(m.theme.completedStyle().Render("✓ Reading complete") + "\n")
	case models.StateBlocked:
		b.WriteString(m.theme.errorStyle().Render("✗ Reading blocked by the review gate") + "\n")
	case models.StateCancelled:
		b.WriteString(m.theme.hintStyle().Render("Reading cancelled") + "\n")
	default:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ Job ended in state %s", m.view.State)) + "\n")
	}

	if r := m.view.Result; r != nil {
		if r.Provider != "" {
			fmt.Fprintf(&b, "\nProvider: %s\n", r.Provider)
		}
		if r.Text != "" {
			fmt.Fprintf(&b, "\n%s\n", r.Text)
		}
		if r.Error != "" {
			b.WriteString(m.theme.errorStyle().Render("\n"+r.Error) + "\n")
		}
	}
	return b.String()
}

// nextEvent consumes one event from the feed.
func (m watchModel) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamDoneMsg{err: <-m.streamCh}
		}
		return streamEventMsg(ev)
	}
}

// fetchView loads the job's final view once the stream has closed.
func (m watchModel) fetchView() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		view, err := m.client.GetReading(ctx, m.jobID)
		return viewMsg{view: view, err: err}
	}
}

// stageOf maps an event to a display stage and progress fraction. Progress
// never moves backwards even when events arrive out of the usual order
// after a resync.
func stageOf(ev models.Event, stage string, pct float64) (string, float64) {
	next, p := stage, pct
	switch ev.Type {
	case models.EventJobCreated:
		next, p = "created", 0.05
	case models.EventStateChanged:
		if s, ok := ev.Data["state"].(string); ok {
			next, p = s, 0.15
		}
	case models.EventProgress:
		if s, ok := ev.Data["stage"].(string); ok {
			next = s
			switch s {
			case "analyzing":
				p = 0.30
			case "drafting":
				p = 0.55
			case "composing":
				p = 0.75
			}
		}
	case models.EventGateDecision:
		next, p = "reviewing", 0.90
	case models.EventCompleted:
		next, p = "done", 1.0
	}
	if p < pct {
		p = pct
	}
	return next, p
}

// runWatchUI runs the interactive watcher for a job. Returns nil on
// completion or Ctrl+C (background), error when the stream fails.
func runWatchUI(c *client.Client, jobID string) error {
	model := newWatchModel(c, jobID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
