package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/pkg/types"
)

func heavyReport(name string) *pipeline.Report {
	return &pipeline.Report{
		Region:  name,
		Profile: "heavy",
		Strings: 2,
		Passes: []types.PassResult{
			types.Result(types.PassStrings, 2, nil),
			types.Result(types.PassMBA, 3, nil),
			types.Result(types.PassControlFlow, 1, []types.Degradation{{Pass: types.PassControlFlow, Pos: "demo.go:4:2", Reason: "defer"}}),
		},
	}
}

func TestNewDashboard(t *testing.T) {
	d := NewDashboard("demo.go", 3)

	if d.Status() != StatusBuilding {
		t.Errorf("Expected StatusBuilding, got %v", d.Status())
	}
	if d.Stats().Total != 3 {
		t.Errorf("Expected 3 regions, got %d", d.Stats().Total)
	}
}

func TestDashboard_RegionMessages(t *testing.T) {
	d := NewDashboard("demo.go", 2)

	d.Update(RegionMsg{Region: "hello", Report: heavyReport("hello")})
	d.Update(RegionMsg{Region: "broken", Err: errors.New("region broken: boom")})

	snap := d.Stats().Snapshot()
	if snap.Protected != 1 || snap.Failed != 1 {
		t.Errorf("Expected 1 protected and 1 failed, got %d/%d", snap.Protected, snap.Failed)
	}
	if snap.Sites[types.PassMBA] != 3 {
		t.Errorf("Expected 3 mba sites, got %d", snap.Sites[types.PassMBA])
	}
	if snap.Degraded[types.PassControlFlow] != 1 {
		t.Errorf("Expected 1 controlflow degradation, got %d", snap.Degraded[types.PassControlFlow])
	}

	if len(d.logs) != 2 {
		t.Fatalf("Expected 2 logs, got %d", len(d.logs))
	}
	if d.logs[0].Level != "WARN" {
		t.Errorf("Partial pass should log WARN, got %s", d.logs[0].Level)
	}
	if d.logs[1].Level != "ERROR" {
		t.Errorf("Failure should log ERROR, got %s", d.logs[1].Level)
	}
}

func TestDashboard_Done(t *testing.T) {
	d := NewDashboard("demo.go", 0)
	_, cmd := d.Update(DoneMsg{})
	if d.Status() != StatusCompleted {
		t.Errorf("Expected StatusCompleted, got %v", d.Status())
	}
	if cmd == nil {
		t.Error("Done should quit the program")
	}

	d = NewDashboard("demo.go", 1)
	d.Update(DoneMsg{Err: errors.New("boom")})
	if d.Status() != StatusFailed {
		t.Errorf("Expected StatusFailed, got %v", d.Status())
	}
}

func TestDashboard_Cancel(t *testing.T) {
	d := NewDashboard("demo.go", 4)
	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if d.Status() != StatusCancelled {
		t.Errorf("Expected StatusCancelled, got %v", d.Status())
	}
	if cmd == nil {
		t.Error("q should quit the program")
	}
}

func TestDashboard_LogTrimming(t *testing.T) {
	d := NewDashboard("demo.go", 1)
	for i := 0; i < 100; i++ {
		d.AddLog("INFO", "line")
	}
	if len(d.logs) != d.maxLogs {
		t.Errorf("Expected %d logs after trimming, got %d", d.maxLogs, len(d.logs))
	}
}

func TestDashboard_View(t *testing.T) {
	d := NewDashboard("demo.go", 1)
	d.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	d.Update(RegionMsg{Region: "hello", Report: heavyReport("hello")})

	view := d.View()
	for _, want := range []string{"obfusk8", "hello", "1 / 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

func TestStats_ETA(t *testing.T) {
	s := NewStats(4)
	if s.ETA() != 0 {
		t.Errorf("ETA before any region should be 0, got %v", s.ETA())
	}
	s.StartTime = time.Now().Add(-2 * time.Second)
	s.Record(heavyReport("a"), nil)
	if eta := s.ETA(); eta <= 0 {
		t.Errorf("Expected positive ETA, got %v", eta)
	}
	if s.Done() != 1 {
		t.Errorf("Expected 1 done, got %d", s.Done())
	}
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	s := NewStats(1)
	s.Record(heavyReport("a"), nil)
	snap := s.Snapshot()
	snap.Sites[types.PassMBA] = 99
	if s.Snapshot().Sites[types.PassMBA] != 3 {
		t.Error("Snapshot should not alias stats maps")
	}
}

func TestProgressBar_Bounds(t *testing.T) {
	p := NewProgressBar(40)

	p.SetProgress(-0.5)
	if p.percentage != 0 {
		t.Errorf("Expected 0, got %f", p.percentage)
	}
	p.SetProgress(1.5)
	if p.percentage != 1 {
		t.Errorf("Expected 1, got %f", p.percentage)
	}
	if !strings.Contains(p.Render(), "100.0%") {
		t.Error("Full bar should render 100.0%")
	}
}

func TestSpinner(t *testing.T) {
	s := NewSpinner("working")
	s.Tick()
	if s.frame != 1 {
		t.Errorf("Expected frame 1, got %d", s.frame)
	}
	s.Stop()
	s.Tick()
	if s.frame != 1 {
		t.Error("Stopped spinner should not advance")
	}
	if !strings.Contains(s.Render(), "working") {
		t.Error("Render should include the text")
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusBuilding, "Building"},
		{StatusCompleted, "Completed"},
		{StatusFailed, "Failed"},
		{StatusCancelled, "Cancelled"},
		{Status(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %s, want %s", tt.status, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{500 * time.Microsecond, "500µs"},
		{150 * time.Millisecond, "150ms"},
		{2500 * time.Millisecond, "2.5s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.d, got, tt.expected)
		}
	}
}

func TestPassTable(t *testing.T) {
	light := &pipeline.Report{Region: "twice", Profile: "light"}
	out := PassTable([]string{types.PassStrings, types.PassMBA, types.PassControlFlow, types.PassVM},
		[]*pipeline.Report{heavyReport("hello"), light, nil})

	for _, want := range []string{"hello", "twice", "applied (3)", "partial (1)", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestSummary(t *testing.T) {
	passes := []string{types.PassStrings, types.PassMBA, types.PassControlFlow, types.PassVM}

	out := Summary(passes, []*pipeline.Report{heavyReport("hello")}, nil)
	for _, want := range []string{"hello: controlflow at demo.go:4:2: defer", "1 regions protected"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	out = Summary(passes, []*pipeline.Report{heavyReport("hello"), nil}, []error{errors.New("fib: context exhausted")})
	if !strings.Contains(out, "fib: context exhausted") {
		t.Errorf("summary missing failure:\n%s", out)
	}
	if strings.Contains(out, "regions protected") {
		t.Errorf("failed build reported success:\n%s", out)
	}
}
