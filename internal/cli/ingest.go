package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/pipeline"
)

var (
	ingestFormat  string
	ingestSource  string
	ingestTimeout time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url>",
	Short: "Segment a document or web page, classify every sentence and store the samples",
	Long: `Ingest reads a document, splits it into sentence-sized units and runs
each unit through the ensemble concurrently. Every unit is stored as a sample;
units routed to review appear in 'processor review list'.

Formats:
  text   plain text (default for unknown extensions)
  html   visible text of an HTML page (.html, .htm)
  jsonl  synthetic generator output, one {"text": ...} object per line (.jsonl)
         Synthetic samples are always queued for review.

Example:
  processor ingest paper.txt
  processor ingest trial.html --source NCT01234567
  processor ingest generated.jsonl --timeout 30m
  processor ingest https://example.org/article.html

URLs are fetched honouring robots.txt (fetch.respect_robots).`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestFormat, "input-format", "", "input format: text, html, jsonl (default: from extension)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source recorded on each sample (default: file name or final URL)")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "total timeout for the ingest run")
}

func runIngest(cmd *cobra.Command, args []string) error {
	input := args[0]

	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	var (
		content string
		format  pipeline.Format
		source  string
	)
	if pipeline.IsURL(input) {
		fmt.Fprintf(os.Stderr, "⚙️  Fetching %s...\n", input)
		doc, err := pipeline.NewFetcher(a.cfg.Fetch).Fetch(ctx, input)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", input, err)
		}
		content, format, source = doc.Content, doc.Format, doc.Source
	} else {
		data, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		content, format, source = string(data), pipeline.DetectFormat(input), filepath.Base(input)
	}
	if ingestFormat != "" {
		format = pipeline.Format(ingestFormat)
	}
	if ingestSource != "" {
		source = ingestSource
	}

	if err := a.withEngine(); err != nil {
		return err
	}

	banner("Processor Ingest")
	fmt.Fprintf(os.Stderr, "  Input:        %s\n", input)
	fmt.Fprintf(os.Stderr, "  Format:       %s\n", format)
	fmt.Fprintf(os.Stderr, "  Members:      %d\n", len(a.scorers))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", a.cfg.Concurrency.BatchWorkers)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", ingestTimeout)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "⚙️  Classifying units...\n")

	start := time.Now()
	summary, err := a.pipeline.ProcessDocument(ctx, source, content, format)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", input, err)
	}

	if a.cfg.Output.Verbose {
		for _, e := range summary.Errors {
			fmt.Fprintf(os.Stderr, "✗ %s\n", e)
		}
	}

	banner("Ingest Complete")
	fmt.Fprintf(os.Stderr, "  Units:         %d\n", summary.Units)
	fmt.Fprintf(os.Stderr, "  Stored:        %d\n", summary.Stored)
	fmt.Fprintf(os.Stderr, "  Needs review:  %d\n", summary.NeedsReview)
	fmt.Fprintf(os.Stderr, "  Auto-accepted: %d\n", summary.AutoAccepted)
	fmt.Fprintf(os.Stderr, "  Failures:      %d\n", summary.Failed)
	fmt.Fprintf(os.Stderr, "  Duration:      %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "\n")

	if a.renderer.Format() == "json" {
		return a.render(summary)
	}
	if summary.NeedsReview > 0 {
		fmt.Printf("✓ %d samples queued. Run 'processor review list' to start reviewing.\n", summary.NeedsReview)
	}
	return nil
}
