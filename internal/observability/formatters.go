// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/swing-coach/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content. Long lines wrap.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	inner := boxWidth - 4
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", inner, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		for _, wrapped := range wrap(line, inner) {
			fmt.Fprintf(p.out, "│ %-*s │\n", inner, wrapped)
		}
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// wrap breaks line on spaces so no piece exceeds width runes. Words longer
// than width are cut.
func wrap(line string, width int) []string {
	if len([]rune(line)) <= width {
		return []string{line}
	}
	indent := line[:len(line)-len(strings.TrimLeft(line, " "))]

	var out []string
	current := ""
	for _, word := range strings.Fields(line) {
		for len([]rune(word)) > width-len(indent) {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			r := []rune(word)
			out = append(out, indent+string(r[:width-len(indent)]))
			word = string(r[width-len(indent):])
		}
		switch {
		case current == "":
			current = indent + word
		case len([]rune(current))+1+len([]rune(word)) <= width:
			current += " " + word
		default:
			out = append(out, current)
			current = indent + word
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

// PrintProgress outputs one poll attempt.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(attempt, maxAttempts int, message string, elapsed time.Duration, err error) {
	line := fmt.Sprintf("[%d/%d %5.1fs] %s", attempt, maxAttempts, elapsed.Seconds(), message)
	if err != nil {
		line += fmt.Sprintf(" (%v)", err)
	}
	fmt.Fprintln(p.out, line)
}

// PrintAnalysis outputs the coaching feedback of a completed analysis.
func (p *Printer) PrintAnalysis(view *types.AnalysisView, coaching string) {
	if view == nil && strings.TrimSpace(coaching) == "" {
		return
	}

	var sb strings.Builder
	if view != nil {
		if view.Summary != "" {
			sb.WriteString(view.Summary)
			sb.WriteString("\n\n")
		}
		writeList(&sb, "Strengths", view.Strengths)
		writeList(&sb, "Improvements", view.Improvements)
		writeList(&sb, "Drills", view.Drills)
		sb.WriteString(fmt.Sprintf("Frames:   %d analyzed", view.FramesAnalyzed))
		if view.FramesSkipped > 0 {
			sb.WriteString(fmt.Sprintf(", %d skipped", view.FramesSkipped))
		}
		sb.WriteString("\n")
		if view.Usage.TotalTokens > 0 {
			sb.WriteString(fmt.Sprintf("Tokens:   %d\n", view.Usage.TotalTokens))
		}
	}
	p.printBox("SWING ANALYSIS", sb.String())

	if text := strings.TrimSpace(coaching); text != "" {
		p.printBox("COACH", text)
	}
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(title + ":\n")
	count := min(len(items), maxItemsToShow)
	for i := 0; i < count; i++ {
		sb.WriteString(fmt.Sprintf("  • %s\n", items[i]))
	}
	if len(items) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(items)-maxItemsToShow))
	}
	sb.WriteString("\n")
}

// PrintRecord outputs the state of one analysis record, used by the analyze command.
func (p *Printer) PrintRecord(rec *types.AnalysisRecord) {
	if rec == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job:      %s\n", rec.ID))
	sb.WriteString(fmt.Sprintf("Owner:    %s\n", rec.OwnerID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", rec.Status))
	sb.WriteString(fmt.Sprintf("Progress: %s\n", rec.ProgressMessage))
	sb.WriteString(fmt.Sprintf("Frames:   %d\n", len(rec.FrameRefs)))
	p.printBox("ANALYSIS RECORD", sb.String())

	if rec.Result != nil {
		p.PrintAnalysis(types.NewAnalysisView(rec), rec.Result.CoachingResponse)
	}
}
