package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/obfusk8/obfusk8/pkg/types"
)

// MarkdownGenerator generates Markdown reports
type MarkdownGenerator struct {
	// IncludeDetails lists every degradation, not just the counts
	IncludeDetails bool
}

var statusMark = map[types.Status]string{
	types.Applied: "✅",
	types.Partial: "🟡",
	types.Skipped: "⛔",
	types.Idle:    "➖",
}

// Generate generates a Markdown report
func (g *MarkdownGenerator) Generate(report *Report, w io.Writer) error {
	var sb strings.Builder
	s := report.Statistics

	fmt.Fprintf(&sb, "# %s\n\n", report.Title)
	fmt.Fprintf(&sb, "Source: `%s`  \nGenerated: %s\n", report.Source, report.GeneratedAt.Format("2006-01-02 15:04:05"))
	if report.BuildID != "" {
		fmt.Fprintf(&sb, "Build: `%s`\n", report.BuildID)
	}

	sb.WriteString("\n## Summary\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Regions | %d |\n", s.Regions)
	fmt.Fprintf(&sb, "| Protected | %d |\n", s.Protected)
	fmt.Fprintf(&sb, "| Failed | %d |\n", s.Failed)
	fmt.Fprintf(&sb, "| Encrypted strings | %d |\n", s.Strings)
	fmt.Fprintf(&sb, "| Degradations | %d |\n", s.Degradations)
	fmt.Fprintf(&sb, "| Labels | %d / %d |\n", s.LabelsUsed, s.LabelCapacity)
	fmt.Fprintf(&sb, "| Duration | %s |\n", s.Duration)

	if len(report.Regions) == 0 {
		sb.WriteString("\nNo regions protected.\n")
	} else {
		sb.WriteString("\n## Regions\n\n")
		sb.WriteString("| Region | Profile | Passes |\n|---|---|---|\n")
		for _, r := range report.Regions {
			passes := make([]string, 0, len(r.Passes))
			for _, p := range r.Passes {
				passes = append(passes, fmt.Sprintf("%s %s (%d)", statusMark[p.Status], p.Name, p.Sites))
			}
			if len(passes) == 0 {
				passes = append(passes, "entry wrapper only")
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", r.Region, r.Profile, strings.Join(passes, ", "))
		}
	}

	if degraded := report.Degraded(); len(degraded) > 0 && g.IncludeDetails {
		sb.WriteString("\n## Left untransformed\n\n")
		for _, r := range degraded {
			for _, d := range r.Degradations() {
				fmt.Fprintf(&sb, "- `%s` %s at %s: %s\n", r.Region, d.Pass, d.Pos, d.Reason)
			}
		}
	}

	if len(report.Failures) > 0 {
		sb.WriteString("\n## Failures\n\n")
		for _, f := range report.Failures {
			if f.Pass != "" {
				fmt.Fprintf(&sb, "- `%s` (%s): %s\n", f.Region, f.Pass, f.Error)
			} else {
				fmt.Fprintf(&sb, "- `%s`: %s\n", f.Region, f.Error)
			}
		}
	}

	if len(report.Divergence) > 0 {
		sb.WriteString("\n## Divergence\n\n| Region | Against | TLSH distance |\n|---|---|---|\n")
		for _, d := range report.Divergence {
			dist := "n/a"
			if d.Hashable {
				dist = fmt.Sprint(d.Distance)
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", d.Region, d.Against, dist)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Extension returns the file extension
func (g *MarkdownGenerator) Extension() string {
	return "md"
}
