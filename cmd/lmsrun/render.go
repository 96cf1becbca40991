package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"lmsrun/internal/campaign"
	"lmsrun/internal/history"
	"lmsrun/internal/ledger"
	"lmsrun/internal/stats"
	"lmsrun/internal/types"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// CONSOLE RENDERING
// =============================================================================

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const nameWidth = 45

func statusIcon(pct float64) string {
	switch {
	case pct >= 100:
		return "✅"
	case pct > 0:
		return "🔄"
	default:
		return "⏳"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func renderProgressBar(frac float64, width int) string {
	frac = min(max(frac, 0), 1)
	filled := int(frac * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// renderTable lays out rows in padded columns under a styled header.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(line(headers)) + "\n")
	for _, row := range rows {
		sb.WriteString(line(row) + "\n")
	}
	return sb.String()
}

func renderRecon(w io.Writer, rep *campaign.ReconReport) {
	if rep == nil {
		return
	}
	rows := make([][]string, 0, len(rep.Courses))
	for _, c := range rep.Courses {
		rows = append(rows, []string{
			statusIcon(c.Percent),
			truncate(c.Course.Name, nameWidth),
			fmt.Sprint(c.Processable),
			fmt.Sprint(c.Skippable),
			fmt.Sprint(c.AlreadyDone),
			fmt.Sprint(c.Remaining),
			fmt.Sprintf("%.0f%%", c.Percent),
		})
	}

	fmt.Fprintln(w, titleStyle.Render("📊 Reconnaissance"))
	fmt.Fprint(w, renderTable([]string{"", "Course", "Process", "Skip", "Done", "Left", "Pct"}, rows))
	summary := fmt.Sprintf("Courses: %d   Activities: %d   To process: %d   To skip: %d   Remaining: %d\nEstimated time: ~%s",
		rep.Scanned, rep.Activities, rep.ToProcess, rep.ToSkip, rep.Remaining, stats.FormatDuration(rep.EstimatedTime))
	if rep.Failed > 0 {
		summary += "\n" + warnStyle.Render(fmt.Sprintf("%d courses could not be scanned", rep.Failed))
	}
	fmt.Fprintln(w, boxStyle.Render(summary))
}

func renderOrder(w io.Writer, order []types.Course, progress campaign.ProgressLookup) {
	if len(order) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("🔄 Processing order"))
	for i, c := range order {
		pct := progress.CompletionPercent(c.ID)
		fmt.Fprintf(w, "  %2d. %s %s %s\n", i+1, statusIcon(pct), truncate(c.Name, nameWidth), mutedStyle.Render(fmt.Sprintf("(%.0f%% done)", pct)))
	}
}

func renderEvent(w io.Writer, ev campaign.OrchestratorEvent, progress campaign.ProgressLookup) {
	switch ev.Type {
	case campaign.EventReconComplete:
		if rep, ok := ev.Data.(campaign.ReconReport); ok {
			renderRecon(w, &rep)
		}
	case campaign.EventPrioritized:
		if order, ok := ev.Data.([]types.Course); ok {
			renderOrder(w, order, progress)
		}
	case campaign.EventCourseStarted:
		fmt.Fprintln(w, headerStyle.Render("📚 "+ev.Message))
	case campaign.EventCourseFinished:
		pct, _ := ev.Data.(float64)
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("   %s %.0f%% complete", ev.Message, pct)))
	case campaign.EventCourseSkipped:
		fmt.Fprintln(w, mutedStyle.Render("⏭️  "+ev.Message+" (already complete)"))
	case campaign.EventCourseFailed:
		fmt.Fprintln(w, errorStyle.Render("   ❌ "+ev.Message))
	}
}

func renderSummary(w io.Writer, res *campaign.RunResult) {
	if res == nil || res.Summary.RunID == "" {
		return
	}
	s := res.Summary

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("📊 Run summary") + "\n")
	fmt.Fprintf(&sb, "Duration:          %s\n", stats.FormatDuration(s.Duration))
	fmt.Fprintf(&sb, "Courses processed: %d\n", s.CoursesProcessed)
	sb.WriteString(successStyle.Render(fmt.Sprintf("Completed:         %d", s.Completed)) + "\n")
	fmt.Fprintf(&sb, "Already done:      %d\n", s.AlreadyDone)
	fmt.Fprintf(&sb, "Skipped:           %d\n", s.Skipped)
	if s.Failed > 0 {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("Failed:            %d", s.Failed)) + "\n")
	} else {
		fmt.Fprintf(&sb, "Failed:            %d\n", s.Failed)
	}
	if res.Interrupted {
		sb.WriteString(warnStyle.Render("Interrupted, rerun to resume") + "\n")
	}
	if res.ReportPath != "" {
		sb.WriteString(mutedStyle.Render("Report: "+res.ReportPath) + "\n")
	}
	fmt.Fprintln(w, boxStyle.Render(strings.TrimRight(sb.String(), "\n")))

	renderManual(w, "📝 Quizzes to complete manually", s.Quizzes)
	renderManual(w, "📄 Assignments to submit manually", s.Assignments)
}

func renderManual(w io.Writer, title string, items []stats.ManualItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	for _, it := range items {
		fmt.Fprintf(w, "  - %s %s\n", truncate(it.Activity, nameWidth), mutedStyle.Render("· "+it.Course))
	}
}

func renderStatus(w io.Writer, courses map[string]ledger.CourseProgress, global ledger.GlobalStats, lastRun *time.Time) {
	if len(courses) == 0 {
		fmt.Fprintln(w, "No progress recorded yet.")
		return
	}

	ids := make([]string, 0, len(courses))
	for id := range courses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := courses[ids[i]].Percent(), courses[ids[j]].Percent()
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		cp := courses[id]
		pct := cp.Percent()
		name := cp.Name
		if name == "" {
			name = id
		}
		rows = append(rows, []string{
			statusIcon(pct),
			truncate(name, nameWidth),
			renderProgressBar(pct/100, 20),
			fmt.Sprintf("%d/%d", len(cp.CompletedActivities), cp.TotalActivities),
			fmt.Sprint(len(cp.FailedActivities)),
			string(cp.Status),
		})
	}

	fmt.Fprintln(w, titleStyle.Render("📚 Course progress"))
	fmt.Fprint(w, renderTable([]string{"", "Course", "Progress", "Done", "Failed", "Status"}, rows))
	footer := fmt.Sprintf("Completed: %d   Skipped: %d   Failures: %d", global.TotalCompleted, global.TotalSkipped, global.TotalFailed)
	if lastRun != nil {
		footer += "   Last run: " + lastRun.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintln(w, mutedStyle.Render(footer))
}

func renderHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		outcome := r.Outcome
		switch r.Outcome {
		case history.OutcomeSuccess:
			outcome = successStyle.Render(outcome)
		case history.OutcomeInterrupted:
			outcome = warnStyle.Render(outcome)
		case history.OutcomeFailed:
			outcome = errorStyle.Render(outcome)
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			stats.FormatDuration(time.Duration(r.DurationSeconds * float64(time.Second))),
			fmt.Sprint(r.CoursesProcessed),
			fmt.Sprint(r.Completed),
			fmt.Sprint(r.Skipped),
			fmt.Sprint(r.Failed),
			outcome,
		})
	}
	fmt.Fprintln(w, titleStyle.Render("🕘 Recent runs"))
	fmt.Fprint(w, renderTable([]string{"Started", "Duration", "Courses", "Done", "Skipped", "Failed", "Outcome"}, rows))
}
