package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/model"
)

// Renderer writes results as text, json or markdown
type Renderer struct {
	format string
}

// NewRenderer creates a renderer; unknown formats fall back to text
func NewRenderer(format string) *Renderer {
	switch format {
	case "json", "markdown":
	default:
		format = "text"
	}
	return &Renderer{format: format}
}

// Format returns the effective output format
func (r *Renderer) Format() string {
	return r.format
}

// Render writes v in the configured format
func (r *Renderer) Render(w io.Writer, v any) error {
	if r.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	md := r.format == "markdown"
	switch x := v.(type) {
	case *model.EnsembleResult:
		return renderResult(w, x, md)
	case *Summary:
		return renderSummary(w, x, md)
	case []*model.LabeledSample:
		return renderSamples(w, x, md)
	case *model.LabeledSample:
		return renderSample(w, x, md)
	case accuracy.Summary:
		return renderAccuracy(w, x, md)
	case accuracy.CategoryReport:
		return renderReport(w, x, md)
	case []handoff.Evaluation:
		return renderEvaluations(w, x, md)
	case []model.HandoffEvent:
		return renderEvents(w, x, md)
	case model.SampleStats:
		return renderStats(w, x, md)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func heading(w io.Writer, title string, md bool) {
	if md {
		fmt.Fprintf(w, "## %s\n\n", title)
		return
	}
	fmt.Fprintf(w, "%s\n%s\n", title, strings.Repeat("─", len([]rune(title))))
}

func categoryList(cats []model.Category) string {
	if len(cats) == 0 {
		return "(none)"
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func reasonList(reasons []model.ReviewReason) string {
	if len(reasons) == 0 {
		return "-"
	}
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return strings.Join(out, ",")
}

func sortedAgreement(agreement map[model.Category]float64) []model.Category {
	cats := make([]model.Category, 0, len(agreement))
	for c := range agreement {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if agreement[cats[i]] != agreement[cats[j]] {
			return agreement[cats[i]] > agreement[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats
}

// table writes rows through a tabwriter, or as a markdown table
func table(w io.Writer, md bool, header []string, rows [][]string) error {
	if md {
		fmt.Fprintf(w, "| %s |\n", strings.Join(header, " | "))
		fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(header)))
		for _, row := range rows {
			fmt.Fprintf(w, "| %s |\n", strings.Join(row, " | "))
		}
		fmt.Fprintln(w)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func renderResult(w io.Writer, r *model.EnsembleResult, md bool) error {
	heading(w, "Classification", md)
	fmt.Fprintf(w, "Text:        %s\n", r.Unit.Text)
	fmt.Fprintf(w, "Accepted:    %s\n", categoryList(r.Accepted))
	fmt.Fprintf(w, "Entropy:     %.3f bits\n", r.Entropy)
	fmt.Fprintf(w, "Responded:   %d/%d\n", r.Votes.Responded(), r.Votes.M())
	if r.NeedsReview {
		fmt.Fprintf(w, "Routing:     human review (%s)\n", reasonList(r.Reasons))
	} else {
		fmt.Fprintf(w, "Routing:     auto-accept\n")
	}
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(r.Agreement))
	for _, c := range sortedAgreement(r.Agreement) {
		accepted := ""
		if model.ContainsCategory(r.Accepted, c) {
			accepted = "yes"
		}
		rows = append(rows, []string{string(c), fmt.Sprintf("%.2f", r.Agreement[c]), accepted})
	}
	if len(rows) > 0 {
		if err := table(w, md, []string{"CATEGORY", "AGREEMENT", "ACCEPTED"}, rows); err != nil {
			return err
		}
	}

	if len(r.Votes.Failures) > 0 {
		fmt.Fprintln(w)
		members := make([]string, 0, len(r.Votes.Failures))
		for m := range r.Votes.Failures {
			members = append(members, m)
		}
		sort.Strings(members)
		for _, m := range members {
			fmt.Fprintf(w, "✗ %s: %s\n", m, r.Votes.Failures[m])
		}
	}
	return nil
}

func renderSummary(w io.Writer, s *Summary, md bool) error {
	heading(w, "Ingest Complete", md)
	fmt.Fprintf(w, "Source:        %s (%s)\n", s.Source, s.Format)
	fmt.Fprintf(w, "Units:         %d\n", s.Units)
	fmt.Fprintf(w, "Stored:        %d\n", s.Stored)
	fmt.Fprintf(w, "Needs review:  %d\n", s.NeedsReview)
	fmt.Fprintf(w, "Auto-accepted: %d\n", s.AutoAccepted)
	fmt.Fprintf(w, "Failed:        %d\n", s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "✗ %s\n", e)
	}
	return nil
}

func renderSamples(w io.Writer, samples []*model.LabeledSample, md bool) error {
	if len(samples) == 0 {
		fmt.Fprintln(w, "No samples pending review.")
		return nil
	}
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			s.ID,
			fmt.Sprintf("%.3f", s.Entropy),
			fmt.Sprintf("%d", s.SkipCount),
			categoryList(s.EnsemblePredictions),
			reasonList(s.ReviewReasons),
			truncate(s.Text, 60),
		})
	}
	return table(w, md, []string{"ID", "ENTROPY", "SKIPS", "PREDICTED", "REASONS", "TEXT"}, rows)
}

func renderSample(w io.Writer, s *model.LabeledSample, md bool) error {
	heading(w, "Sample "+s.ID, md)
	fmt.Fprintf(w, "Text:        %s\n", s.Text)
	if s.Origin.Source != "" {
		fmt.Fprintf(w, "Origin:      %s #%d\n", s.Origin.Source, s.Origin.Index)
	}
	fmt.Fprintf(w, "Provenance:  %s\n", s.Provenance)
	fmt.Fprintf(w, "Predicted:   %s\n", categoryList(s.EnsemblePredictions))
	fmt.Fprintf(w, "Entropy:     %.3f bits\n", s.Entropy)
	fmt.Fprintf(w, "Reasons:     %s\n", reasonList(s.ReviewReasons))
	if s.Reviewed() {
		fmt.Fprintf(w, "Confirmed:   %s (by %s at %s)\n", categoryList(s.HumanLabels), s.ReviewedBy, s.ReviewedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(w, "Confirmed:   pending (skipped %d times)\n", s.SkipCount)
	}
	fmt.Fprintln(w)

	members := make([]string, 0, len(s.ModelPredictions))
	for m := range s.ModelPredictions {
		members = append(members, m)
	}
	sort.Strings(members)
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{m, categoryList(s.ModelPredictions[m])})
	}
	for m, reason := range s.ModelFailures {
		rows = append(rows, []string{m, "failed: " + reason})
	}
	return table(w, md, []string{"MEMBER", "VOTES"}, rows)
}

func renderAccuracy(w io.Writer, s accuracy.Summary, md bool) error {
	heading(w, "Category Accuracy", md)
	rows := make([][]string, 0, len(s.Reports))
	for _, r := range s.Reports {
		rows = append(rows, []string{
			string(r.Category),
			string(r.Status),
			fmt.Sprintf("%d", r.Metrics.TotalSamples),
			fmt.Sprintf("%.3f", r.Metrics.Accuracy),
			fmt.Sprintf("%.3f", r.Metrics.Precision),
			fmt.Sprintf("%.3f", r.Metrics.Recall),
			fmt.Sprintf("%.3f", r.Metrics.F1),
		})
	}
	if err := table(w, md, []string{"CATEGORY", "STATUS", "SAMPLES", "ACCURACY", "PRECISION", "RECALL", "F1"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d categories: %d auto-accepted, %d under review (%d ready to hand off)\n",
		s.Categories, s.AutoAccepted, s.UnderReview, s.ReadyToHandoff)
	return nil
}

func renderReport(w io.Writer, r accuracy.CategoryReport, md bool) error {
	heading(w, "Category "+string(r.Category), md)
	m := r.Metrics
	fmt.Fprintf(w, "Status:          %s (%s)\n", r.Status, r.Handoff)
	fmt.Fprintf(w, "Samples:         %d (need %d more)\n", m.TotalSamples, r.SamplesNeeded)
	fmt.Fprintf(w, "Accuracy:        %.3f (gap %.2f pts)\n", m.Accuracy, r.AccuracyGap)
	fmt.Fprintf(w, "Precision:       %.3f\n", m.Precision)
	fmt.Fprintf(w, "Recall:          %.3f\n", m.Recall)
	fmt.Fprintf(w, "F1:              %.3f\n", m.F1)
	fmt.Fprintf(w, "TP/FP/FN/TN:     %d/%d/%d/%d\n", m.TruePositive, m.FalsePositive, m.FalseNegative, m.TrueNegative)
	fmt.Fprintf(w, "Recommendation:  %s\n", r.Recommendation)
	return nil
}

func renderEvaluations(w io.Writer, evals []handoff.Evaluation, md bool) error {
	rows := make([][]string, 0, len(evals))
	for _, e := range evals {
		rows = append(rows, []string{
			string(e.Category),
			string(e.Status),
			fmt.Sprintf("%d", e.TotalSamples),
			fmt.Sprintf("%.3f", e.Accuracy),
			e.Message,
		})
	}
	return table(w, md, []string{"CATEGORY", "STATUS", "SAMPLES", "ACCURACY", "NOTE"}, rows)
}

func renderEvents(w io.Writer, events []model.HandoffEvent, md bool) error {
	if len(events) == 0 {
		fmt.Fprintln(w, "No handoff transitions recorded.")
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		action := "promote"
		if e.To {
			action = "revert"
		}
		rows = append(rows, []string{e.At.Format("2006-01-02 15:04:05"), string(e.Category), action, e.Actor, e.Reason})
	}
	return table(w, md, []string{"AT", "CATEGORY", "ACTION", "ACTOR", "REASON"}, rows)
}

func renderStats(w io.Writer, s model.SampleStats, md bool) error {
	heading(w, "Sample Statistics", md)
	fmt.Fprintf(w, "Total:           %d\n", s.Total)
	fmt.Fprintf(w, "Reviewed:        %d\n", s.Reviewed)
	fmt.Fprintf(w, "Pending review:  %d\n", s.PendingReview)
	fmt.Fprintf(w, "Auto-accepted:   %d\n", s.AutoAccepted)
	fmt.Fprintf(w, "Synthetic:       %d\n", s.Synthetic)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
