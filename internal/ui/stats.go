package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/obfusk8/obfusk8/internal/pipeline"
)

// Stats accumulates build progress. Safe for concurrent use.
type Stats struct {
	mu sync.RWMutex

	StartTime time.Time
	Total     int
	Protected int
	Failed    int

	// Sites and Degraded are keyed by pass name
	Sites    map[string]int
	Degraded map[string]int
	Strings  int
}

// NewStats creates stats for a build of total regions
func NewStats(total int) *Stats {
	return &Stats{
		StartTime: time.Now(),
		Total:     total,
		Sites:     make(map[string]int),
		Degraded:  make(map[string]int),
	}
}

// Record counts one finished region
func (s *Stats) Record(rep *pipeline.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil || rep == nil {
		s.Failed++
		return
	}
	s.Protected++
	s.Strings += rep.Strings
	for _, p := range rep.Passes {
		s.Sites[p.Name] += p.Sites
		s.Degraded[p.Name] += len(p.Degradations)
	}
}

// Done returns how many regions finished either way
func (s *Stats) Done() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Protected + s.Failed
}

// ETA returns the estimated time until every region finished
func (s *Stats) ETA() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	done := s.Protected + s.Failed
	if done == 0 || s.Total == 0 {
		return 0
	}
	per := time.Since(s.StartTime) / time.Duration(done)
	return per * time.Duration(s.Total-done)
}

// Snapshot returns a copy of current stats
func (s *Stats) Snapshot() StatsSnapshot {
	eta := s.ETA()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatsSnapshot{
		Total:     s.Total,
		Protected: s.Protected,
		Failed:    s.Failed,
		Strings:   s.Strings,
		Elapsed:   time.Since(s.StartTime),
		ETA:       eta,
		Sites:     make(map[string]int, len(s.Sites)),
		Degraded:  make(map[string]int, len(s.Degraded)),
	}
	for k, v := range s.Sites {
		snap.Sites[k] = v
	}
	for k, v := range s.Degraded {
		snap.Degraded[k] = v
	}
	return snap
}

// StatsSnapshot is an immutable snapshot of stats
type StatsSnapshot struct {
	Total     int
	Protected int
	Failed    int
	Strings   int
	Sites     map[string]int
	Degraded  map[string]int
	Elapsed   time.Duration
	ETA       time.Duration
}

// StatsView renders the statistics panel
type StatsView struct {
	width int
}

// NewStatsView creates a new stats view
func NewStatsView(width int) *StatsView {
	return &StatsView{width: width}
}

// SetSize updates the view size
func (v *StatsView) SetSize(width int) {
	v.width = width
}

// Render renders the stats view
func (v *StatsView) Render(snap StatsSnapshot) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("Build"))
	b.WriteString("\n\n")
	b.WriteString(RenderLabel("Protected"))
	b.WriteString(" ")
	b.WriteString(SuccessStyle.Render(fmt.Sprintf("%d", snap.Protected)))
	b.WriteString(" | ")
	b.WriteString(RenderLabel("Failed"))
	b.WriteString(" ")
	b.WriteString(ErrorStyle.Render(fmt.Sprintf("%d", snap.Failed)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Strings", fmt.Sprintf("%d", snap.Strings)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Elapsed", formatDuration(snap.Elapsed)))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("Sites"))
	b.WriteString("\n\n")
	names := make([]string, 0, len(snap.Sites))
	for name := range snap.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		line := RenderLabelValue(name, fmt.Sprintf("%d", snap.Sites[name]))
		if d := snap.Degraded[name]; d > 0 {
			line += " " + WarningStyle.Render(fmt.Sprintf("(%d left)", d))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return StatsPanelStyle.Width(v.width).Render(b.String())
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
