package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/model"
)

var classifyTimeout time.Duration

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify <text|->",
	Short: "Classify a single sentence without storing it",
	Long: `Run the ensemble over one text unit and print the decision.

Pass "-" to read the text from stdin. Nothing is persisted.

Example:
  processor classify "Patients paid $4,000 per infusion."
  echo "Serum ferritin fell by 40%." | processor classify - -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().DurationVar(&classifyTimeout, "timeout", 2*time.Minute, "timeout for the whole ensemble")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text := args[0]
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)

	ctx, cancel := context.WithTimeout(cmd.Context(), classifyTimeout)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if err := a.withEngine(); err != nil {
		return err
	}

	if a.cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "⚙️  Scoring with %d members: %s\n", len(a.scorers), strings.Join(a.engine.Members(), ", "))
	}

	result, err := a.engine.Evaluate(ctx, model.TextUnit{Text: text, Origin: model.Origin{Source: "cli"}})
	if err != nil {
		if result == nil {
			return err
		}
		if errors.Is(err, model.ErrInvariantViolation) {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
	}
	return a.render(result)
}
