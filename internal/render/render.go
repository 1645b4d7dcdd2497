// Package render prints analysis results for a terminal.
package render

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/analysis"
)

// Labels are the section headings and field names.
type Labels struct {
	Summary    string
	Strengths  string
	Weaknesses string
	Detail     string
	Overall    string
	Score      string
	Grade      string
	Lesson     string
	ScoreUnit  string
}

var DefaultLabels = Labels{
	Summary:    "Summary",
	Strengths:  "Strengths",
	Weaknesses: "Weaknesses & improvements",
	Detail:     "Detailed analysis",
	Overall:    "Overall score & grade",
	Score:      "Overall score",
	Grade:      "Grade",
	Lesson:     "One-point lesson",
	ScoreUnit:  "",
}

const (
	ansiCyan  = "\x1b[36m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// timestamps like [01:23], [01:23~01:40] or [01:23 - 01:40]
var timestampPattern = regexp.MustCompile(`\[\d{2}:\d{2}(?:\s*[~\-]\s*\d{2}:\d{2})?\]`)

type Renderer struct {
	Labels Labels
	// Color highlights headings and timestamps with ANSI escapes.
	Color bool
}

// Text renders res with the default labels and no color.
func Text(res analysis.Result) string {
	var b strings.Builder
	Renderer{Labels: DefaultLabels}.Render(&b, res)
	return b.String()
}

// Render writes the four-section report, the rejection message, or the raw
// text when the result is not structured.
func (r Renderer) Render(w io.Writer, res analysis.Result) error {
	var b strings.Builder
	switch {
	case res.Report == nil:
		b.WriteString(r.highlight(strings.TrimSpace(res.Raw)))
		b.WriteString("\n")
	case res.Report.Rejected:
		b.WriteString(strings.TrimSpace(res.Report.RejectMessage))
		b.WriteString("\n")
	default:
		r.report(&b, res.Report)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (r Renderer) report(b *strings.Builder, rep *analysis.Report) {
	l := r.Labels

	r.heading(b, 1, l.Summary)
	fmt.Fprintf(b, "  - %s: %s\n", l.Strengths, r.highlight(rep.Summary.Strengths))
	fmt.Fprintf(b, "  - %s: %s\n", l.Weaknesses, r.highlight(rep.Summary.Weaknesses))

	b.WriteString("\n")
	r.heading(b, 2, l.Detail)
	for i, d := range rep.DetailScores {
		fmt.Fprintf(b, "  %d. %s: %.1f%s\n", i+1, d.Name, float64(d.Score), l.ScoreUnit)
		if c := strings.TrimSpace(d.Comment); c != "" {
			fmt.Fprintf(b, "     %s\n", r.highlight(c))
		}
	}

	b.WriteString("\n")
	r.heading(b, 3, l.Overall)
	fmt.Fprintf(b, "  - %s: %.2f%s\n", l.Score, float64(rep.OverallScore), l.ScoreUnit)
	fmt.Fprintf(b, "  - %s: %s\n", l.Grade, rep.Grade)

	b.WriteString("\n")
	r.heading(b, 4, l.Lesson)
	fmt.Fprintf(b, "  - %s\n", r.highlight(rep.OnePointLesson))
}

func (r Renderer) heading(b *strings.Builder, n int, title string) {
	if r.Color {
		fmt.Fprintf(b, "%s%d. %s%s\n", ansiBold, n, title, ansiReset)
		return
	}
	fmt.Fprintf(b, "%d. %s\n", n, title)
}

func (r Renderer) highlight(s string) string {
	if !r.Color {
		return s
	}
	return timestampPattern.ReplaceAllStringFunc(s, func(ts string) string {
		return ansiCyan + ts + ansiReset
	})
}
