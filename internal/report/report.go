// Package report provides build report generation for obfusk8.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Failure is a region the build could not protect
type Failure struct {
	Region string `json:"region" yaml:"region"`
	Pass   string `json:"pass,omitempty" yaml:"pass,omitempty"`
	Error  string `json:"error" yaml:"error"`
}

// Divergence is how far a protected region moved away from a reference
// build, as a TLSH distance (0 = identical, larger = more different)
type Divergence struct {
	Region    string `json:"region" yaml:"region"`
	Against   string `json:"against" yaml:"against"` // original, seed
	Distance  int    `json:"distance" yaml:"distance"`
	Hashable  bool   `json:"hashable" yaml:"hashable"`
	Different bool   `json:"different" yaml:"different"`
}

// Statistics holds build statistics
type Statistics struct {
	Regions       int            `json:"regions" yaml:"regions"`
	Protected     int            `json:"protected" yaml:"protected"`
	Failed        int            `json:"failed" yaml:"failed"`
	Sites         map[string]int `json:"sites" yaml:"sites"`
	Degradations  int            `json:"degradations" yaml:"degradations"`
	Strings       int            `json:"strings" yaml:"strings"`
	LabelsUsed    uint64         `json:"labels_used" yaml:"labels_used"`
	LabelCapacity uint64         `json:"label_capacity" yaml:"label_capacity"`
	Duration      time.Duration  `json:"duration" yaml:"duration"`
}

// MarshalJSON implements custom JSON marshaling for Statistics
func (s Statistics) MarshalJSON() ([]byte, error) {
	type Alias Statistics
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(s),
		Duration: s.Duration.String(),
	})
}

// Report represents one build
type Report struct {
	// Metadata
	Title       string    `json:"title" yaml:"title"`
	Version     string    `json:"version" yaml:"version"`
	BuildID     string    `json:"build_id,omitempty" yaml:"build_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Source      string    `json:"source" yaml:"source"`

	Statistics Statistics         `json:"statistics" yaml:"statistics"`
	Regions    []*pipeline.Report `json:"regions" yaml:"regions"`
	Failures   []Failure          `json:"failures,omitempty" yaml:"failures,omitempty"`
	Divergence []Divergence       `json:"divergence,omitempty" yaml:"divergence,omitempty"`

	// StatusCounts maps pass name to status to region count
	StatusCounts map[string]map[types.Status]int `json:"status_counts" yaml:"status_counts"`
}

// NewReport creates a new report
func NewReport(title, source string) *Report {
	return &Report{
		Title:        title,
		Version:      "1.0",
		GeneratedAt:  time.Now(),
		Source:       source,
		Regions:      make([]*pipeline.Report, 0),
		Statistics:   Statistics{Sites: make(map[string]int)},
		StatusCounts: make(map[string]map[types.Status]int),
	}
}

// AddRegion adds a protected region's report
func (r *Report) AddRegion(rep *pipeline.Report) {
	r.Regions = append(r.Regions, rep)
	r.Statistics.Regions++
	r.Statistics.Protected++
	r.Statistics.Strings += rep.Strings
	for _, p := range rep.Passes {
		r.Statistics.Sites[p.Name] += p.Sites
		r.Statistics.Degradations += len(p.Degradations)
		if r.StatusCounts[p.Name] == nil {
			r.StatusCounts[p.Name] = make(map[types.Status]int)
		}
		r.StatusCounts[p.Name][p.Status]++
	}
}

// AddFailure records a region that failed to build
func (r *Report) AddFailure(region, pass string, err error) {
	r.Failures = append(r.Failures, Failure{Region: region, Pass: pass, Error: err.Error()})
	r.Statistics.Regions++
	r.Statistics.Failed++
}

// AddBuild adds the outcome of pipeline.ProtectAll. err is the joined
// error it returned; failures are matched to regions through pipeline.Error.
func (r *Report) AddBuild(names []string, prots []*pipeline.Protected, err error) {
	failed := map[string]*pipeline.Error{}
	for _, e := range unjoin(err) {
		if perr, ok := e.(*pipeline.Error); ok {
			failed[perr.Region] = perr
		}
	}
	for i, name := range names {
		if i < len(prots) && prots[i] != nil {
			r.AddRegion(prots[i].Report)
			continue
		}
		if perr, ok := failed[name]; ok {
			r.AddFailure(name, perr.Pass, perr.Err)
		} else if err != nil {
			r.AddFailure(name, "", err)
		}
	}
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// SetContext records label usage of the build's obfuscation context
func (r *Report) SetContext(used, capacity uint64) {
	r.Statistics.LabelsUsed = used
	r.Statistics.LabelCapacity = capacity
}

// Degraded returns the regions where any pass left something untransformed
func (r *Report) Degraded() []*pipeline.Report {
	var out []*pipeline.Report
	for _, rep := range r.Regions {
		if len(rep.Degradations()) > 0 {
			out = append(out, rep)
		}
	}
	return out
}

// FilterByStatus returns the regions where pass finished with status
func (r *Report) FilterByStatus(pass string, status types.Status) []*pipeline.Report {
	var out []*pipeline.Report
	for _, rep := range r.Regions {
		if p, ok := rep.Pass(pass); ok && p.Status == status {
			out = append(out, rep)
		}
	}
	return out
}

// PassNames returns the passes that ran anywhere in the build, sorted
func (r *Report) PassNames() []string {
	names := make([]string, 0, len(r.StatusCounts))
	for name := range r.StatusCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generator is the interface for report generators
type Generator interface {
	Generate(report *Report, w io.Writer) error
	Extension() string
}

// Manager manages report generation
type Manager struct {
	generators map[string]Generator
	outputDir  string
}

// NewManager creates a new report manager
func NewManager(outputDir string) *Manager {
	m := &Manager{
		generators: make(map[string]Generator),
		outputDir:  outputDir,
	}

	// Register default generators
	m.RegisterGenerator("json", &JSONGenerator{Indent: true})
	m.RegisterGenerator("yaml", &YAMLGenerator{})
	m.RegisterGenerator("html", NewHTMLGenerator())
	m.RegisterGenerator("markdown", &MarkdownGenerator{})
	m.RegisterGenerator("md", &MarkdownGenerator{})

	return m
}

// RegisterGenerator registers a generator
func (m *Manager) RegisterGenerator(format string, gen Generator) {
	m.generators[format] = gen
}

// GetGenerator returns a generator by format
func (m *Manager) GetGenerator(format string) (Generator, bool) {
	gen, ok := m.generators[format]
	return gen, ok
}

// Generate writes a report in the given format into the output directory
func (m *Manager) Generate(report *Report, format string) (string, error) {
	gen, ok := m.generators[format]
	if !ok {
		return "", fmt.Errorf("unknown report format: %s", format)
	}

	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("report_%s.%s", timestamp, gen.Extension())
	path := filepath.Join(m.outputDir, filename)
	return path, m.WriteFile(report, format, path)
}

// WriteFile writes a report in the given format to path
func (m *Manager) WriteFile(report *Report, format, path string) error {
	gen, ok := m.generators[format]
	if !ok {
		return fmt.Errorf("unknown report format: %s", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := gen.Generate(report, f); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	return nil
}

// FormatForPath picks a format from a file extension, defaulting to json
func FormatForPath(path string) string {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "yaml"
	case ".html", ".htm":
		return "html"
	case ".md":
		return "markdown"
	}
	return "json"
}

// WriteToWriter generates a report and writes to the given writer
func (m *Manager) WriteToWriter(report *Report, format string, w io.Writer) error {
	gen, ok := m.generators[format]
	if !ok {
		return fmt.Errorf("unknown report format: %s", format)
	}

	return gen.Generate(report, w)
}
