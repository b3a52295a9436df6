package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/knowforge-go/internal/coordinator"
	"github.com/raphaelgruber/knowforge-go/internal/models"
	"github.com/raphaelgruber/knowforge-go/internal/service"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <run-id> <generation|difficulty>",
	Short: "Watch a batch job until it completes",
	Long: `Poll a batch job at a fixed interval and process its results as
soon as the provider finishes. Press Ctrl+C to stop watching; the batch
keeps running at the provider.

Examples:
  knowforge watch 2026-08-30 generation
  knowforge watch 2026-08-30 difficulty --interval 30s`,
	Args: cobra.ExactArgs(2),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "poll interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	runID := args[0]
	batchType, err := parseBatchType(args[1])
	if err != nil {
		return err
	}
	return runBatchWatch(svc, runID, batchType, watchInterval)
}

// Theme holds the color scheme for the watch display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
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

// tickMsg triggers the next poll cycle
type tickMsg time.Time

// batchUpdateMsg carries the latest coordinator outcome
type batchUpdateMsg struct {
	out coordinator.Outcome
	err error
}

// statusProgress maps job states onto a fraction for the progress bar.
// Provider-side completion is the long phase, so submitted sits mid-bar.
var statusProgress = map[models.JobStatus]float64{
	models.JobStatusPendingSubmission: 0.05,
	models.JobStatusSubmitted:         0.45,
	models.JobStatusPendingProcessing: 0.75,
	models.JobStatusProcessing:        0.9,
	models.JobStatusCompleted:         1.0,
	models.JobStatusSubmissionFailed:  0,
	models.JobStatusProcessingFailed:  0,
}

// watchModel is the bubbletea model for the batch watch.
type watchModel struct {
	svc       *service.Service
	runID     string
	batchType string
	interval  time.Duration
	out       *coordinator.Outcome
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	err       error
}

func newWatchModel(svc *service.Service, runID, batchType string, interval time.Duration) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return watchModel{
		svc:       svc,
		runID:     runID,
		batchType: batchType,
		interval:  interval,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.pollBatch(),
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
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.pollBatch()

	case batchUpdateMsg:
		if msg.err != nil {
			// Transient poll errors are retried at the next tick.
			m.err = msg.err
			return m, m.tickCmd()
		}
		m.err = nil
		m.out = &msg.out

		switch msg.out.Kind {
		case coordinator.OutcomeCompleted:
			m.done = true
			return m, tea.Quit
		case coordinator.OutcomeFailed:
			m.done = true
			m.err = fmt.Errorf("%s", msg.out.Reason)
			return m, tea.Quit
		}

		return m, m.tickCmd()

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

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.out == nil || m.out.Job == nil {
		return "Checking batch status...\n"
	}

	job := m.out.Job
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", job.Status))
	progressBar := m.progress.ViewAs(statusProgress[job.Status])
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching; the batch keeps running")

	line := fmt.Sprintf("%s %s %s\n", status, progressBar, m.batchType)
	if m.err != nil {
		line += m.theme.errorStyle().Render(fmt.Sprintf("poll error (retrying): %v\n", m.err))
	}
	return line + hint + "\n"
}

func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nBatch continues at the provider.\nUse 'knowforge poll %s %s' to check on it.\n",
			m.runID, m.batchType)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Batch failed: %s\n", m.err))
	}

	return m.theme.completedStyle().Render("✓ Batch completed and processed\n")
}

// pollBatch polls the job and processes it as soon as results are ready.
// Runs as a command to avoid blocking Update().
func (m watchModel) pollBatch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		out, err := m.svc.Poll(ctx, m.runID, m.batchType)
		if err != nil {
			return batchUpdateMsg{out: out, err: err}
		}
		if out.Kind == coordinator.OutcomeProcessing {
			out, err = m.svc.Process(ctx, m.runID, m.batchType)
		}
		return batchUpdateMsg{out: out, err: err}
	}
}

// tickCmd returns a command that triggers the next poll after the interval.
func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runBatchWatch runs the interactive watch UI for a batch job.
// Returns nil on success or Ctrl+C (background), error on batch failure.
func runBatchWatch(svc *service.Service, runID, batchType string, interval time.Duration) error {
	model := newWatchModel(svc, runID, batchType, interval)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok {
		// Ctrl+C leaves the batch running at the provider - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
