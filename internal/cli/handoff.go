package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var (
	revertReason   string
	revertOperator string
	historyLimit   int
)

// handoffCmd represents the handoff command
var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Inspect and control category handoff",
	Long: `A category starts with human review enabled. Once it has enough confirmed
samples at high enough accuracy it is handed off: units whose accepted labels
are all handed off are stored without review.

Handoff is one-way. Only 'processor handoff revert' turns review back on, and a
reverted category is handed off again only after min_samples_for_handoff new
confirmations meet the accuracy threshold.`,
}

var handoffStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Evaluate every category without changing state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		evals := make([]handoffView, 0, a.set.Len())
		for _, c := range a.set.All() {
			ev, err := a.policy.Check(ctx, c)
			if err != nil {
				return err
			}
			evals = append(evals, handoffView{
				Category:    c,
				Status:      ev.Status,
				Total:       ev.TotalSamples,
				Accuracy:    ev.Accuracy,
				Eligible:    ev.Status == model.StatusReviewRequired && ev.Eligible,
				SinceRevert: ev.SinceRevert,
			})
		}
		if a.renderer.Format() == "json" {
			return a.render(evals)
		}
		for _, v := range evals {
			marker := " "
			if v.SinceRevert {
				marker = "r"
			}
			if v.Eligible {
				marker = "*"
			}
			fmt.Printf("%s %-24s %-12s %5d samples  %6.2f%%\n", marker, v.Category, v.Status, v.Total, v.Accuracy*100)
		}
		fmt.Printf("\n* eligible for handoff on the next evaluation\n")
		fmt.Printf("r reverted by an operator; only samples confirmed since then count\n")
		return nil
	},
}

type handoffView struct {
	Category    model.Category      `json:"category"`
	Status      model.HandoffStatus `json:"status"`
	Total       int                 `json:"total_samples"`
	Accuracy    float64             `json:"accuracy"`
	Eligible    bool                `json:"eligible"`
	SinceRevert bool                `json:"since_revert"`
}

var handoffEvaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the handoff policy and promote eligible categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		evals, err := a.policy.EvaluateAll(ctx)
		if err != nil {
			return err
		}
		return a.render(evals)
	},
}

var handoffRevertCmd = &cobra.Command{
	Use:   "revert <category>",
	Short: "Turn human review back on for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operator := revertOperator
		if operator == "" {
			operator = reviewer()
		}
		if operator == "" {
			return fmt.Errorf("--operator is required")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		changed, err := a.policy.Revert(ctx, model.Category(args[0]), operator, revertReason)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Printf("✓ %s already has human review enabled\n", args[0])
			return nil
		}
		fmt.Printf("✓ Human review re-enabled for %s\n", args[0])
		return nil
	},
}

var handoffHistoryCmd = &cobra.Command{
	Use:   "history [category]",
	Short: "Show recent handoff transitions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		var category model.Category
		if len(args) == 1 {
			if category, err = a.set.Parse(args[0]); err != nil {
				return err
			}
		}
		events, err := a.state.Events(ctx, category, historyLimit)
		if err != nil {
			return err
		}
		return a.render(events)
	},
}

func init() {
	rootCmd.AddCommand(handoffCmd)
	handoffCmd.AddCommand(handoffStatusCmd, handoffEvaluateCmd, handoffRevertCmd, handoffHistoryCmd)

	handoffRevertCmd.Flags().StringVar(&revertReason, "reason", "", "why review is being re-enabled")
	handoffRevertCmd.Flags().StringVar(&revertOperator, "operator", "", "operator id (default: $USER)")
	handoffHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum events to show")
}
