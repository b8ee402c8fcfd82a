package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the ensemble members",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured ensemble members",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, m := range cfg.Models {
			target := m.Model
			if target == "" {
				target = "-"
			}
			key := "n/a"
			if m.APIKeyEnv != "" {
				key = m.APIKeyEnv + " (unset)"
				if m.APIKey() != "" {
					key = m.APIKeyEnv
				}
			}
			fmt.Printf("%-16s %-10s %-28s %s\n", m.Name, m.Provider, target, key)
		}
		return nil
	},
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every member is configured and reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())
		if err := a.withEngine(); err != nil {
			return err
		}

		available := 0
		for _, s := range a.scorers {
			if s.IsAvailable(ctx) {
				available++
				fmt.Printf("✓ %s\n", s.Name())
			} else {
				fmt.Printf("✗ %s\n", s.Name())
			}
		}
		fmt.Printf("\n%d of %d members available (%d needed to decide)\n",
			available, len(a.scorers), a.cfg.Thresholds.MinRespondingModels)
		if available < a.cfg.Thresholds.MinRespondingModels {
			return fmt.Errorf("not enough members available")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsCheckCmd)
}
