package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/server"
)

var (
	serveAddr string
	tokenRole string
	tokenTTL  time.Duration
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled handoff evaluation",
	Long: `Serve exposes classification, ingest, review and handoff over HTTP.

When server.jwt_secret is set every /v1 route requires a bearer token; issue
one with 'processor token'. When handoff.schedule is set the handoff policy
also runs on that cron schedule.

Example:
  processor serve --addr :8080`,
	RunE: runServe,
}

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API token signed with server.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := server.NewAuthenticator(cfg.Server.JWTSecret).Issue(args[0], tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, tokenCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "reviewer", "token role: reviewer or operator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	if err := a.withEngine(); err != nil {
		return err
	}
	if serveAddr != "" {
		a.cfg.Server.Addr = serveAddr
	}

	scheduler, err := handoff.NewScheduler(a.cfg.Handoff.Schedule, a.policy)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	auth := server.NewAuthenticator(a.cfg.Server.JWTSecret)
	srv := server.New(a.cfg.Server, &server.Container{
		Classifier: a.engine,
		Ingester:   a.pipeline,
		Review:     a.review,
		Tracker:    a.tracker,
		Policy:     a.policy,
		Auth:       auth,
	})

	banner("Processor API")
	fmt.Fprintf(os.Stderr, "  Listen:       %s\n", a.cfg.Server.Addr)
	fmt.Fprintf(os.Stderr, "  Members:      %d\n", len(a.scorers))
	fmt.Fprintf(os.Stderr, "  Auth:         %v\n", auth.Enabled())
	fmt.Fprintf(os.Stderr, "  Schedule:     %s\n", orNone(a.cfg.Handoff.Schedule))
	fmt.Fprintf(os.Stderr, "\n")

	return srv.Run(ctx)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
