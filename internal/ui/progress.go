package ui

import (
	"fmt"
	"strings"
)

// ProgressBar renders a fraction as a bar with a percentage
type ProgressBar struct {
	width      int
	percentage float64
	eta        string
}

// NewProgressBar creates a new progress bar
func NewProgressBar(width int) *ProgressBar {
	return &ProgressBar{width: width}
}

// SetProgress sets the progress fraction, clamped to [0, 1]
func (p *ProgressBar) SetProgress(percentage float64) {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 1 {
		percentage = 1
	}
	p.percentage = percentage
}

// SetETA sets the estimated time remaining
func (p *ProgressBar) SetETA(eta string) {
	p.eta = eta
}

// SetWidth sets the progress bar width
func (p *ProgressBar) SetWidth(width int) {
	p.width = width
}

// Render renders the progress bar
func (p *ProgressBar) Render() string {
	var b strings.Builder

	// percentage and brackets take 10 columns
	barWidth := p.width - 10
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(float64(barWidth) * p.percentage)

	b.WriteString(ProgressFullStyle.Render(strings.Repeat("█", filled)))
	b.WriteString(ProgressEmptyStyle.Render(strings.Repeat("░", barWidth-filled)))
	b.WriteString(" ")
	b.WriteString(ValueStyle.Render(fmt.Sprintf("%5.1f%%", p.percentage*100)))

	if p.eta != "" {
		b.WriteString(" ")
		b.WriteString(InfoStyle.Render("ETA: " + p.eta))
	}
	return b.String()
}

// ProgressView is the region progress panel
type ProgressView struct {
	width    int
	progress *ProgressBar
	done     int
	total    int
}

// NewProgressView creates a new progress view
func NewProgressView(width int) *ProgressView {
	return &ProgressView{
		width:    width,
		progress: NewProgressBar(width - 6), // panel padding
	}
}

// SetSize updates the view size
func (v *ProgressView) SetSize(width int) {
	v.width = width
	v.progress.SetWidth(width - 6)
}

// Update sets how many regions have finished
func (v *ProgressView) Update(done, total int, eta string) {
	v.done = done
	v.total = total
	if total > 0 {
		v.progress.SetProgress(float64(done) / float64(total))
	} else {
		v.progress.SetProgress(0)
	}
	v.progress.SetETA(eta)
}

// Render renders the progress view
func (v *ProgressView) Render() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Regions"))
	b.WriteString("\n\n")
	b.WriteString(v.progress.Render())
	b.WriteString("\n\n")
	b.WriteString(RenderLabelValue("Protected", fmt.Sprintf("%d / %d", v.done, v.total)))
	return PanelStyle.Width(v.width).Render(b.String())
}

// Spinner is an indeterminate activity indicator
type Spinner struct {
	frame   int
	text    string
	running bool
}

// NewSpinner creates a running spinner
func NewSpinner(text string) *Spinner {
	return &Spinner{text: text, running: true}
}

// SetText sets the spinner text
func (s *Spinner) SetText(text string) {
	s.text = text
}

// Stop freezes the spinner on a check mark
func (s *Spinner) Stop() {
	s.running = false
}

// Tick advances the spinner animation
func (s *Spinner) Tick() {
	if s.running {
		s.frame = (s.frame + 1) % len(SpinnerChars)
	}
}

// Render renders the spinner
func (s *Spinner) Render() string {
	if !s.running {
		return SuccessStyle.Render("✓") + " " + s.text
	}
	return InfoStyle.Render(SpinnerChars[s.frame]) + " " + s.text
}
