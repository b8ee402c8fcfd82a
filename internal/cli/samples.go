package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

// samplesCmd represents the samples command
var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Inspect and export stored samples",
}

var samplesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count samples by review state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return a.render(stats)
	},
}

var samplesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export reviewed samples as JSONL training data",
	Long: `Write one JSON object per reviewed sample with its text and human labels.

Example:
  processor samples export --out training.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		var w io.Writer = os.Stdout
		if exportOut != "" && exportOut != "-" {
			f, createErr := os.Create(exportOut)
			if createErr != nil {
				return fmt.Errorf("create export file: %w", createErr)
			}
			defer func() {
				if closeErr := f.Close(); closeErr != nil && err == nil {
					err = fmt.Errorf("close export file: %w", closeErr)
				}
			}()
			w = f
		}

		n, err := a.store.ExportJSONL(cmd.Context(), w)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Exported %d reviewed samples\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(samplesCmd)
	samplesCmd.AddCommand(samplesStatsCmd, samplesExportCmd)
	samplesExportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default: stdout)")
}
