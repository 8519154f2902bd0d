package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer drives the full-screen bubbletea progress display.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *runModel
	tracker *ProgressTracker
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

var _ Renderer = (*TUIRenderer)(nil)

// NewTUIRenderer builds the TUI renderer. It fails when cfg.Output is
// not a terminal so callers can fall back to plain output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newRunModel(tracker, cfg.ProjectDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the bubbletea program in the background.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// send forwards a message to the running program, if any. Callers hold
// the lock.
func (r *TUIRenderer) send(msg tea.Msg) {
	if r.program != nil {
		r.program.Send(msg)
	}
}

// UpdateProgress feeds a progress tick into the tracker and the
// running program.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.tracker.Stats().Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
	r.send(progressUpdateMsg(event))
}

// AddError records the event and forwards it to the display.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(event)
	r.send(errorMsg(event))
}

// Complete switches the display to its summary view.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.SetStage(StageComplete, 0)
	r.send(completeMsg(stats))
}

// Stop quits the program, waiting briefly so an unresponsive TUI
// cannot hang Ctrl+C.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// bubbletea message types.
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats
type tickMsg time.Time

// indexStages is the pipeline shown across the top of the display.
var indexStages = []struct {
	stage Stage
	name  string
}{
	{StageScanning, "Scan"},
	{StageChunking, "Chunk"},
	{StageEmbedding, "Embed"},
	{StageIndexing, "Index"},
}

// runModel is the bubbletea model for an index run.
type runModel struct {
	tracker     *ProgressTracker
	width       int
	height      int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	projectDir  string
}

func newRunModel(tracker *ProgressTracker, projectDir string) *runModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	p := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &runModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
		projectDir:  projectDir,
	}
}

func (m *runModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key := msg.String(); key == "ctrl+c" || key == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case progressUpdateMsg, errorMsg:
		// State already lives in the tracker; the message only forces
		// a redraw.

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *runModel) resize(width, height int) {
	m.width = width
	m.height = height
	m.progressBar.Width = width - 20
	if m.progressBar.Width < 20 {
		m.progressBar.Width = 20
	}
}

// contentWidth is the inner panel width, floored so narrow terminals
// stay readable.
func (m *runModel) contentWidth() int {
	if w := m.width - 4; w >= 40 {
		return w
	}
	return 40
}

func (m *runModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	w := m.contentWidth()
	divider := m.styles.Border.Render(strings.Repeat("─", w))

	sections := []string{
		m.renderStages(),
		divider,
		m.renderProgress(),
		m.renderSpeedMetrics(),
		divider,
		m.renderSparkline(w),
	}
	if file := m.tracker.Stats().CurrentFile; file != "" {
		sections = append(sections, divider, m.styles.Dim.Render(truncateFilePath(file, w-2)))
	}

	title := "pampax Indexer"
	if m.projectDir != "" {
		title += " • " + m.projectDir
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(w)

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	)
	return body + "\n" + m.renderStatusBar(w)
}

// renderStages draws the pipeline with a filled dot per finished
// stage, the spinner on the active one, an empty dot on the rest.
func (m *runModel) renderStages() string {
	current := m.tracker.Stats().Stage

	parts := make([]string, 0, len(indexStages))
	for _, s := range indexStages {
		var icon string
		var style lipgloss.Style
		switch {
		case s.stage < current:
			icon, style = "●", m.styles.Success
		case s.stage == current:
			icon, style = m.spinner.View(), m.styles.Active
		default:
			icon, style = "○", m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}

	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *runModel) renderProgress() string {
	stats := m.tracker.Stats()

	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...\n%s",
			m.spinner.View(),
			stats.Stage.String(),
			m.styles.Dim.Render("Preparing..."))
	}

	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := m.styles.Label.Render(fmt.Sprintf("%d / %d chunks", stats.Current, stats.Total))

	return fmt.Sprintf("%s  %s\n%s", bar, pct, count)
}

func (m *runModel) renderSpeedMetrics() string {
	stats := m.tracker.Stats()

	speed := fmt.Sprintf("Speed: %.0f/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}

	if eta := stats.ETA; eta > 0 {
		parts = append(parts, m.styles.Label.Render("ETA: "+formatDuration(eta)))
	}

	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *runModel) renderSparkline(width int) string {
	sparkWidth := width - 10
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	spark := m.tracker.RenderSparkline(sparkWidth)
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput ─")
}

func (m *runModel) renderStatusBar(width int) string {
	stats := m.tracker.Stats()

	var parts []string
	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}

	return strings.Join(parts, m.styles.Dim.Render("  │  ")) + m.styles.Dim.Render("  │  q to quit")
}

func (m *runModel) renderComplete() string {
	labeled := func(label, value string) string {
		return m.styles.Label.Render(label) + " " + m.styles.Active.Render(value)
	}

	lines := []string{
		m.styles.Success.Render("✓ Indexing Complete"),
		"",
		labeled("Files:   ", fmt.Sprintf("%d", m.stats.Files)),
		labeled("Chunks:  ", fmt.Sprintf("%d", m.stats.Chunks)),
		labeled("Duration:", formatDuration(m.stats.Duration)),
	}

	if speed := m.tracker.SpeedStats(); speed.Avg > 0 {
		lines = append(lines, m.styles.Label.Render("Avg Speed:")+" "+
			m.styles.Speed.Render(fmt.Sprintf("%.0f chunks/sec", speed.Avg)))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(m.contentWidth())

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncateFilePath shortens a path to maxLen, preferring to keep the
// filename and the tail of the directory part.
func truncateFilePath(path string, maxLen int) string {
	if path == "" || len(path) <= maxLen {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) == 1 {
		if maxLen < 4 {
			return "..."
		}
		return "..." + path[len(path)-maxLen+3:]
	}

	filename := parts[len(parts)-1]
	if len(filename)+4 > maxLen {
		return "..." + filename[len(filename)-maxLen+3:]
	}

	remaining := maxLen - len(filename) - 4
	if remaining <= 0 {
		return ".../" + filename
	}

	prefix := strings.Join(parts[:len(parts)-1], "/")
	if len(prefix) <= remaining {
		return path
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}
