package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// PassTable renders one row per region and one column per pass, each cell
// the pass status and site count. Passes a region did not run show "-".
func PassTable(passes []string, reports []*pipeline.Report) string {
	headers := append([]string{"region", "profile"}, passes...)
	headers = append(headers, "strings")

	rows := make([][]string, 0, len(reports))
	statuses := make([][]types.Status, 0, len(reports))
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		row := []string{rep.Region, rep.Profile}
		st := make([]types.Status, len(passes))
		for i, name := range passes {
			res, ok := rep.Pass(name)
			if !ok {
				row = append(row, "-")
				continue
			}
			st[i] = res.Status
			row = append(row, fmt.Sprintf("%s (%d)", res.Status, res.Sites))
		}
		row = append(row, fmt.Sprintf("%d", rep.Strings))
		rows = append(rows, row)
		statuses = append(statuses, st)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorCyan)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Bold(true).Foreground(ColorMagenta)
			}
			i := col - 2
			if row < 0 || row >= len(statuses) || i < 0 || i >= len(passes) {
				return base
			}
			switch statuses[row][i] {
			case types.Applied:
				return base.Inherit(AppliedStyle)
			case types.Partial:
				return base.Inherit(PartialStyle)
			case types.Skipped:
				return base.Inherit(SkippedStyle)
			case types.Idle:
				return base.Inherit(IdleStyle)
			}
			return base
		})
	return t.String()
}

// Summary renders the banner, the pass table and one line per failure
func Summary(passes []string, reports []*pipeline.Report, failures []error) string {
	var b strings.Builder
	b.WriteString(GetBannerStyled())
	b.WriteString("\n")
	b.WriteString(PassTable(passes, reports))
	b.WriteString("\n")
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		for _, d := range rep.Degradations() {
			b.WriteString(RenderWarning(fmt.Sprintf("! %s: %s at %s: %s", rep.Region, d.Pass, d.Pos, d.Reason)))
			b.WriteString("\n")
		}
	}
	for _, err := range failures {
		b.WriteString(RenderError("✗ " + err.Error()))
		b.WriteString("\n")
	}
	if len(failures) == 0 {
		b.WriteString(RenderSuccess(fmt.Sprintf("✓ %d regions protected", len(reports))))
		b.WriteString("\n")
	}
	return b.String()
}
