// ABOUTME: End-of-run summary rendering for the CLI.
// ABOUTME: Styled with lipgloss; failures tint the headline, counts stay plain.
package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type runSummary struct {
	RunID    string
	Rows     int
	Results  int
	Failures int
	Output   string
	Elapsed  time.Duration
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printSummary writes the end-of-run summary to w.
func printSummary(w io.Writer, s runSummary) {
	headline := okStyle.Render("run complete")
	if s.Failures > 0 {
		headline = warnStyle.Render(fmt.Sprintf("run complete with %d failed row(s)", s.Failures))
	}
	fmt.Fprintln(w, headline)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("run:"), s.RunID)
	fmt.Fprintf(w, "  %s %d in, %d out\n", labelStyle.Render("rows:"), s.Rows, s.Results)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("output:"), s.Output)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("elapsed:"), s.Elapsed.Round(time.Millisecond))
}
