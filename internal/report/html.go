package report

import (
	"html/template"
	"io"
	"time"

	"github.com/obfusk8/obfusk8/pkg/types"
)

// HTMLGenerator generates HTML reports
type HTMLGenerator struct {
	template *template.Template
}

// NewHTMLGenerator creates a new HTML generator
func NewHTMLGenerator() *HTMLGenerator {
	tmpl := template.Must(template.New("report").Funcs(template.FuncMap{
		"statusClass": func(s types.Status) string {
			switch s {
			case types.Applied:
				return "applied"
			case types.Partial:
				return "partial"
			case types.Idle:
				return "idle"
			default:
				return "skipped"
			}
		},
		"formatTime": func(t time.Time) string {
			return t.Format("2006-01-02 15:04:05")
		},
		"formatDuration": func(d time.Duration) string {
			return d.String()
		},
		"truncate": func(s string, n int) string {
			if len(s) <= n {
				return s
			}
			return s[:n] + "..."
		},
	}).Parse(htmlTemplate))

	return &HTMLGenerator{
		template: tmpl,
	}
}

// Generate generates an HTML report
func (g *HTMLGenerator) Generate(report *Report, w io.Writer) error {
	return g.template.Execute(w, report)
}

// Extension returns the file extension
func (g *HTMLGenerator) Extension() string {
	return "html"
}

// SetTemplate replaces the report template
func (g *HTMLGenerator) SetTemplate(tmpl *template.Template) {
	g.template = tmpl
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}} - obfusk8 build</title>
    <style>
        :root {
            --bg-dark: #0D0D0D;
            --bg-panel: #1A1A2E;
            --bg-header: #16213E;
            --text-primary: #E0E0E0;
            --text-dim: #666666;
            --cyan: #00FFFF;
            --magenta: #FF00FF;
            --green: #00FF00;
            --yellow: #FFFF00;
            --red: #FF0055;
        }
        body { font-family: 'Segoe UI', 'Roboto', sans-serif; background: var(--bg-dark); color: var(--text-primary); }
        .container { max-width: 1200px; margin: 0 auto; padding: 20px; }
        header { background: var(--bg-header); padding: 30px; border-radius: 10px; border: 1px solid var(--cyan); }
        h1 { color: var(--cyan); }
        h2 { color: var(--magenta); }
        .meta { color: var(--text-dim); }
        .meta span { margin-right: 20px; }
        .section { background: var(--bg-panel); border-radius: 10px; padding: 20px; margin: 20px 0; border: 1px solid var(--magenta); }
        .stats-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 20px; }
        .stat-card { background: var(--bg-header); padding: 20px; border-radius: 8px; text-align: center; border: 1px solid var(--cyan); }
        .stat-value { font-size: 2em; font-weight: bold; color: var(--cyan); }
        .stat-label { color: var(--text-dim); }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 6px 10px; border-bottom: 1px solid var(--bg-header); text-align: left; }
        code { font-family: 'Fira Code', 'Consolas', monospace; color: var(--cyan); }
        .badge { padding: 2px 10px; border-radius: 12px; font-weight: bold; margin-right: 4px; }
        .badge.applied { background: var(--green); color: black; }
        .badge.partial { background: var(--yellow); color: black; }
        .badge.skipped { background: var(--red); color: white; }
        .badge.idle { background: var(--text-dim); color: white; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>{{.Title}}</h1>
        <div class="meta">
            <span>Source: <strong>{{.Source}}</strong></span>
            <span>Generated: {{formatTime .GeneratedAt}}</span>
            {{if .BuildID}}<span>Build: <code>{{.BuildID}}</code></span>{{end}}
        </div>
    </header>

    <section class="section">
        <h2>Statistics</h2>
        <div class="stats-grid">
            <div class="stat-card"><div class="stat-value">{{.Statistics.Protected}}</div><div class="stat-label">Protected</div></div>
            <div class="stat-card"><div class="stat-value">{{.Statistics.Failed}}</div><div class="stat-label">Failed</div></div>
            <div class="stat-card"><div class="stat-value">{{.Statistics.Strings}}</div><div class="stat-label">Encrypted strings</div></div>
            <div class="stat-card"><div class="stat-value">{{.Statistics.Degradations}}</div><div class="stat-label">Degradations</div></div>
            <div class="stat-card"><div class="stat-value">{{.Statistics.LabelsUsed}}</div><div class="stat-label">Labels</div></div>
            <div class="stat-card"><div class="stat-value">{{formatDuration .Statistics.Duration}}</div><div class="stat-label">Duration</div></div>
        </div>
    </section>

    <section class="section">
        <h2>Regions</h2>
        {{if .Regions}}
        <table>
            <tr><th>Region</th><th>Profile</th><th>Passes</th></tr>
            {{range .Regions}}
            <tr>
                <td><code>{{.Region}}</code></td>
                <td>{{.Profile}}</td>
                <td>{{range .Passes}}<span class="badge {{statusClass .Status}}">{{.Name}} {{.Sites}}</span>{{else}}entry wrapper only{{end}}</td>
            </tr>
            {{range .Degradations}}
            <tr><td></td><td>{{.Pass}}</td><td>{{truncate .Reason 120}}</td></tr>
            {{end}}
            {{end}}
        </table>
        {{else}}
        <p>No regions protected.</p>
        {{end}}
    </section>

    {{if .Failures}}
    <section class="section">
        <h2>Failures</h2>
        <ul>{{range .Failures}}<li><code>{{.Region}}</code> {{.Pass}}: {{.Error}}</li>{{end}}</ul>
    </section>
    {{end}}
</div>
</body>
</html>
`
