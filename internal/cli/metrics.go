package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
)

// metricsCmd represents the metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect per-category accuracy",
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show accuracy and handoff readiness for every category",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		all, err := a.tracker.All(ctx)
		if err != nil {
			return err
		}
		snapshot, err := a.snapshot(ctx)
		if err != nil {
			return err
		}
		return a.render(accuracy.Summarise(all, snapshot, a.tracker.Criteria()))
	},
}

var metricsReportCmd = &cobra.Command{
	Use:   "report <category>",
	Short: "Show the detailed report for one category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		category, err := a.set.Parse(args[0])
		if err != nil {
			return err
		}
		m, err := a.tracker.Metrics(ctx, category)
		if err != nil {
			return err
		}
		enabled, err := a.state.ReviewEnabled(ctx, category)
		if err != nil {
			return err
		}
		return a.render(accuracy.BuildReport(m, enabled, a.tracker.Criteria()))
	},
}

var metricsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute all counters from reviewed samples",
	Long: `Rebuild clears the accuracy counters and replays every reviewed sample.
Use it after an interrupted confirmation or a manual database edit.
Handoff flags are not changed; run 'processor handoff evaluate' afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		samples, err := a.store.ListReviewed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "⚙️  Replaying %d reviewed samples...\n", len(samples))
		n, err := a.tracker.Rebuild(ctx, samples)
		if err != nil {
			return fmt.Errorf("rebuild after %d samples: %w", n, err)
		}
		fmt.Printf("✓ Rebuilt metrics from %d samples\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsShowCmd, metricsReportCmd, metricsRebuildCmd)
}
