package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/rshare/internal/diag"
	"github.com/roach88/rshare/internal/events"
)

const (
	colorInfo    lipgloss.Color = "#5ac8fa"
	colorSuccess lipgloss.Color = "#34c759"
	colorWarning lipgloss.Color = "#ff9500"
	colorDanger  lipgloss.Color = "#ff3b30"
	colorCache   lipgloss.Color = "#af52de"
	colorRequest lipgloss.Color = "#007aff"
	colorMuted   lipgloss.Color = "#8e8e93"
)

var categoryColors = map[events.Category]lipgloss.Color{
	events.CategoryInfo:    colorInfo,
	events.CategorySuccess: colorSuccess,
	events.CategoryWarning: colorWarning,
	events.CategoryDanger:  colorDanger,
	events.CategoryCache:   colorCache,
	events.CategoryRequest: colorRequest,
}

var (
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boldStyle  = lipgloss.NewStyle().Bold(true)
	fatalCard  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDanger).
			Padding(0, 1)
)

func categoryStyle(c events.Category) lipgloss.Style {
	color, ok := categoryColors[c]
	if !ok {
		color = colorMuted
	}
	return lipgloss.NewStyle().Foreground(color)
}

// Printer is an events.Sink that renders events as styled lines, one per
// event. It is the terminal stand-in for the overlay's log panel.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Handle implements events.Sink.
func (p *Printer) Handle(e events.Event) {
	line := renderEvent(e)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func renderEvent(e events.Event) string {
	prefix := mutedStyle.Render(fmt.Sprintf("%4d %-5s %s", e.Seq, e.Role, e.Context))
	switch e.Type {
	case events.TypeLog:
		tag := categoryStyle(e.Category).Render(fmt.Sprintf("%-8s", e.Category))
		return prefix + " " + tag + " " + e.Message
	case events.TypeProgress:
		return prefix + " " + mutedStyle.Render(fmt.Sprintf("progress %d/%d", e.Loaded, e.Total))
	case events.TypeFatal:
		return prefix + "\n" + renderFatal(e.Locator, errText(e.Err), e.Diagnosis)
	}
	return ""
}

// renderFatal draws the fatal card: the failing resource, the error and
// the classifier's report.
func renderFatal(locator, err, diagnosis string) string {
	var b strings.Builder
	b.WriteString(categoryStyle(events.CategoryDanger).Bold(true).Render("Critical error"))
	if locator != "" {
		b.WriteString("\n" + boldStyle.Render("Resource: ") + locator)
	}
	b.WriteString("\n" + boldStyle.Render("Error: ") + err)
	if diagnosis != "" {
		b.WriteString("\n\n" + diagnosis)
	}
	return fatalCard.Render(b.String())
}

// renderFindings renders classifier findings with each rule's accent color.
func renderFindings(findings []diag.Finding) string {
	if len(findings) == 0 {
		return mutedStyle.Render(diag.NoMatch)
	}
	blocks := make([]string, 0, len(findings))
	for _, f := range findings {
		title := lipgloss.NewStyle().Foreground(lipgloss.Color(f.Color)).Bold(true).
			Render(fmt.Sprintf("[%s] %s", f.Rule, f.Title))
		var lines []string
		for _, l := range strings.Split(f.Detail, "\n") {
			lines = append(lines, "  "+l)
		}
		blocks = append(blocks, title+"\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
