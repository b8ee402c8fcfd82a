package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/review"
)

var (
	reviewLimit    int
	reviewAccept   bool
	reviewLabels   []string
	reviewReviewer string
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through the human review queue",
	Long: `Review samples that the ensemble could not auto-accept.

Confirming a sample records its correct labels, updates per-category accuracy
and may hand categories off to auto-accept.

Example:
  processor review list --limit 10
  processor review show 3f0c...
  processor review confirm 3f0c... --labels cost,dosage
  processor review confirm 3f0c... --accept
  processor review confirm 3f0c... --labels ""   # no category applies
  processor review skip 3f0c...`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending samples, least skipped first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		samples, err := a.review.Pending(cmd.Context(), reviewLimit)
		if err != nil {
			return err
		}
		if len(samples) == 0 && a.renderer.Format() != "json" {
			fmt.Println("✓ Review queue is empty")
			return nil
		}
		return a.render(samples)
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <sample-id>",
	Short: "Show one sample with its ensemble evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		sample, err := a.review.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return a.render(sample)
	},
}

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <sample-id>",
	Short: "Record the correct labels for a sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !reviewAccept && !cmd.Flags().Changed("labels") {
			return fmt.Errorf("either --labels or --accept is required")
		}
		if reviewAccept && cmd.Flags().Changed("labels") {
			return fmt.Errorf("--labels and --accept are mutually exclusive")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		result, err := a.review.Confirm(cmd.Context(), review.ConfirmCommand{
			SampleID:        args[0],
			Labels:          nonEmpty(reviewLabels),
			AcceptPredicted: reviewAccept,
			Reviewer:        reviewer(),
		})
		if result == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Labels saved, but handoff evaluation failed: %v\n", err)
		}

		if a.renderer.Format() == "json" {
			return a.render(result)
		}
		fmt.Printf("✓ Confirmed %s\n", result.Sample.ID)
		if len(result.Changed) > 0 {
			fmt.Printf("  Corrected: %s\n", joinCategories(result.Changed))
		}
		for _, c := range result.Promoted {
			fmt.Printf("  ✓ %s handed off to auto-accept\n", c)
		}
		return nil
	},
}

var reviewSkipCmd = &cobra.Command{
	Use:   "skip <sample-id>",
	Short: "Move a sample to the back of the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		count, err := a.review.Skip(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Skipped %s (skipped %d times)\n", args[0], count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewConfirmCmd, reviewSkipCmd)

	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 20, "maximum samples to list")

	reviewConfirmCmd.Flags().StringSliceVar(&reviewLabels, "labels", nil, "comma-separated correct categories; empty means none apply")
	reviewConfirmCmd.Flags().BoolVar(&reviewAccept, "accept", false, "accept the ensemble's predicted labels")
	reviewConfirmCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer id (default: $USER)")
}

// reviewer resolves the reviewer id from the flag or the login name
func reviewer() string {
	if reviewReviewer != "" {
		return reviewReviewer
	}
	return os.Getenv("USER")
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func joinCategories(cats []model.Category) string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
