package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/obfusk8/obfusk8/internal/pipeline"
)

// Status is the state of the build shown by the dashboard
type Status int

const (
	StatusBuilding Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "Building"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// LogEntry is one line of the activity panel
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the bubbletea model of a running build
type Dashboard struct {
	width  int
	height int

	title     string
	status    Status
	err       error
	stats     *Stats
	statsView *StatsView
	progress  *ProgressView
	spinner   *Spinner

	logs    []LogEntry
	maxLogs int
}

// NewDashboard creates a dashboard for a build of total regions
func NewDashboard(title string, total int) *Dashboard {
	return &Dashboard{
		width:     80,
		height:    24,
		title:     title,
		status:    StatusBuilding,
		stats:     NewStats(total),
		statsView: NewStatsView(36),
		progress:  NewProgressView(70),
		spinner:   NewSpinner("protecting " + title),
		maxLogs:   50,
	}
}

// AddLog adds a log entry
func (d *Dashboard) AddLog(level, message string) {
	d.logs = append(d.logs, LogEntry{Time: time.Now(), Level: level, Message: message})
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// Stats returns the build statistics
func (d *Dashboard) Stats() *Stats {
	return d.stats
}

// Status returns the build state
func (d *Dashboard) Status() Status {
	return d.status
}

// --- Bubbletea Model interface ---

// TickMsg is sent on each animation tick
type TickMsg time.Time

// RegionMsg reports one finished region
type RegionMsg struct {
	Region string
	Report *pipeline.Report
	Err    error
}

// DoneMsg ends the build
type DoneMsg struct {
	Err error
}

// Init initializes the model
func (d *Dashboard) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if d.status == StatusBuilding {
				d.status = StatusCancelled
				d.spinner.Stop()
			}
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width / 3)
		d.progress.SetSize(d.width - 4)

	case RegionMsg:
		d.stats.Record(msg.Report, msg.Err)
		d.logRegion(msg)
		d.refresh()

	case DoneMsg:
		d.err = msg.Err
		d.status = StatusCompleted
		if msg.Err != nil {
			d.status = StatusFailed
		}
		d.spinner.Stop()
		d.refresh()
		return d, tea.Quit

	case TickMsg:
		d.spinner.Tick()
		d.refresh()
		return d, tickCmd()
	}

	return d, nil
}

func (d *Dashboard) refresh() {
	snap := d.stats.Snapshot()
	eta := ""
	if snap.ETA > 0 {
		eta = formatDuration(snap.ETA)
	}
	d.progress.Update(snap.Protected+snap.Failed, snap.Total, eta)
}

func (d *Dashboard) logRegion(msg RegionMsg) {
	if msg.Err != nil {
		d.AddLog("ERROR", msg.Err.Error())
		return
	}
	level := "INFO"
	var parts []string
	for _, p := range msg.Report.Passes {
		parts = append(parts, p.Name+"="+string(p.Status))
		if len(p.Degradations) > 0 {
			level = "WARN"
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "entry wrapper only")
	}
	d.AddLog(level, fmt.Sprintf("%s [%s] %s", msg.Region, msg.Report.Profile, strings.Join(parts, " ")))
}

// View renders the dashboard
func (d *Dashboard) View() string {
	var b strings.Builder

	b.WriteString(d.renderHeader())
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.statsView.Render(d.stats.Snapshot()),
		d.renderLogPanel(),
	))
	b.WriteString("\n")
	b.WriteString(d.progress.Render())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(RenderHelp("q", "cancel")))
	b.WriteString("\n")
	return b.String()
}

func (d *Dashboard) renderHeader() string {
	title := TitleStyle.Render("obfusk8")

	var statusText string
	switch d.status {
	case StatusCompleted:
		statusText = SuccessStyle.Render("✓ COMPLETED")
	case StatusFailed:
		statusText = FailedStyle.Render("✗ FAILED")
	case StatusCancelled:
		statusText = WarningStyle.Render("■ CANCELLED")
	default:
		statusText = RunningStyle.Render(d.spinner.Render())
	}

	header := title + "  " + statusText
	return BoxStyle.Width(d.width - 2).Render(header)
}

func (d *Dashboard) renderLogPanel() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Regions"))
	b.WriteString("\n\n")

	start := 0
	if len(d.logs) > 8 {
		start = len(d.logs) - 8
	}
	width := d.width/2 - 10
	for _, entry := range d.logs[start:] {
		levelStyle := InfoStyle
		switch entry.Level {
		case "ERROR":
			levelStyle = ErrorStyle
		case "WARN":
			levelStyle = WarningStyle
		}
		msg := entry.Message
		if width > 3 && len(msg) > width {
			msg = msg[:width-3] + "..."
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			HelpStyle.Render(entry.Time.Format("15:04:05")),
			levelStyle.Render(fmt.Sprintf("%-5s", entry.Level)),
			msg,
		)
	}
	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

// BuildFunc runs a build, reporting each finished region through onRegion
type BuildFunc func(ctx context.Context, onRegion func(region string, rep *pipeline.Report, err error)) error

// RunBuild shows d while build runs. Quitting the dashboard cancels the
// build; the build's own error is returned once it has stopped.
func RunBuild(ctx context.Context, d *Dashboard, build BuildFunc, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prog := tea.NewProgram(d, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	done := make(chan error, 1)
	go func() {
		err := build(ctx, func(region string, rep *pipeline.Report, err error) {
			prog.Send(RegionMsg{Region: region, Report: rep, Err: err})
		})
		prog.Send(DoneMsg{Err: err})
		done <- err
	}()

	_, uiErr := prog.Run()
	cancel()
	err := <-done
	if err == nil && uiErr != nil && d.status != StatusCancelled {
		return uiErr
	}
	if err == nil && d.status == StatusCancelled {
		return context.Canceled
	}
	return err
}
