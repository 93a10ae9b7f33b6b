package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"disputeflow/auth"
	"disputeflow/client"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/escalation"
	"disputeflow/httpapi"
	"disputeflow/settings"
)

var rootCmd = &cobra.Command{
	Use:   "disputeflow",
	Short: "Credit dispute escalation automation",
	Long: `disputeflow runs the dispute escalation engine: it watches dispatched
dispute rounds, advances silent or unsatisfactorily-verified cases to their
next stage, and records run metadata for monitoring.`,
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.AddCommand(serveCmd(), runCmd(), healthCmd(), enableCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("scheduler_interval", "1h")
	viper.SetDefault("run_timeout", "10m")
	viper.SetDefault("concurrency", 4)

	viper.SetEnvPrefix("disputeflow")
	viper.AutomaticEnv()
	_ = viper.BindEnv("database_url", "DATABASE_URL")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")

	viper.SetConfigName("disputeflow")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/disputeflow")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("read config: %v", err)
		}
	}
}

// app bundles the wired services shared by all commands.
type app struct {
	pool         interface{ Close() }
	disputeRepo  *dispute.Repository
	settingsRepo *settings.Repository
	runner       *escalation.Runner
	health       *settings.Service
	authSvc      *auth.Service
	clientSvc    *client.Service
	disputeSvc   *dispute.Service
}

func buildApp(ctx context.Context) (*app, error) {
	pool, err := db.NewPool(ctx, viper.GetString("database_url"))
	if err != nil {
		return nil, err
	}

	disputeRepo := dispute.NewRepository(pool)
	settingsRepo := settings.NewRepository(pool)

	return &app{
		pool:         pool,
		disputeRepo:  disputeRepo,
		settingsRepo: settingsRepo,
		runner: escalation.NewRunner(disputeRepo, settingsRepo).
			WithConcurrency(viper.GetInt("concurrency")),
		health:     settings.NewService(settingsRepo, disputeRepo),
		authSvc:    auth.NewService(auth.NewRepository(pool), viper.GetString("jwt_secret")),
		clientSvc:  client.NewService(client.NewRepository(pool)),
		disputeSvc: dispute.NewService(disputeRepo),
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and run the escalation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			srv := httpapi.New(a.authSvc, a.runner, a.health, a.settingsRepo, a.clientSvc, a.disputeSvc)
			httpServer := &http.Server{
				Addr:    viper.GetString("listen_addr"),
				Handler: srv.Routes(),
			}

			go scheduler(ctx, a.runner, a.settingsRepo)

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			log.Printf("listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

// scheduler is the recurring trigger: the same Runner entry point the manual
// endpoint uses, on a timer, honoring the kill switch and a per-run timeout.
func scheduler(ctx context.Context, runner *escalation.Runner, killSw *settings.Repository) {
	interval := viper.GetDuration("scheduler_interval")
	runTimeout := viper.GetDuration("run_timeout")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		enabled, err := killSw.IsEnabled(ctx, settings.AutomationEscalation)
		if err != nil {
			log.Printf("scheduler: read kill switch: %v", err)
			continue
		}
		if !enabled {
			log.Printf("scheduler: escalation automation disabled, skipping tick")
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		res := runner.Run(runCtx, escalation.RunOptions{})
		cancel()

		if res.Success {
			log.Printf("scheduler: checked=%d escalated=%d skipped=%d", res.Checked, res.Escalated, res.Skipped)
		} else {
			log.Printf("scheduler: run failed: %s", res.Error)
		}
	}
}

func runCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one escalation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("run_timeout"))
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			if !dryRun {
				enabled, err := a.settingsRepo.IsEnabled(ctx, settings.AutomationEscalation)
				if err != nil {
					return err
				}
				if !enabled {
					return fmt.Errorf("escalation automation is disabled; re-enable it or use --dry-run")
				}
			}

			res := a.runner.Run(ctx, escalation.RunOptions{DryRun: dryRun})
			printRunResult(res)

			if !res.Success {
				return fmt.Errorf("%s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without mutating cases")
	return cmd
}

func printRunResult(res escalation.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"dry run", "checked", "escalated", "would escalate", "skipped"})
	t.AppendRow(table.Row{res.DryRun, res.Checked, res.Escalated, res.WouldEscalate, res.Skipped})
	t.Render()
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show automation health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			report, err := a.health.Health(ctx, settings.AutomationEscalation)
			if err != nil {
				return err
			}

			fmt.Printf("verdict:            %s\n", colorVerdict(report.Verdict))
			fmt.Printf("enabled:            %v\n", report.Enabled)
			fmt.Printf("last run:           %s (success=%v dry=%v)\n",
				report.LastRunAt.Format(time.RFC3339), report.LastRunSuccess, report.LastRunDryRun)
			fmt.Printf("last counters:      checked=%d escalated=%d would=%d skipped=%d\n",
				report.Checked, report.Escalated, report.WouldEscalate, report.Skipped)
			fmt.Printf("eligible now:       %d\n", report.EligibleNow)
			fmt.Printf("escalated last 24h: %d\n", report.EscalatedLast24h)
			if report.LastRunError != "" {
				fmt.Printf("last error:         %s\n", report.LastRunError)
			}
			for _, f := range report.RecentFailures {
				fmt.Printf("  failure %s: %s\n", f.OccurredAt.Format(time.RFC3339), f.Message)
			}
			return nil
		},
	}
}

func colorVerdict(v settings.Verdict) string {
	switch v {
	case settings.VerdictHealthy:
		return color.GreenString(string(v))
	case settings.VerdictWarning:
		return color.YellowString(string(v))
	case settings.VerdictDisabled:
		return color.HiBlackString(string(v))
	default:
		return color.RedString(string(v))
	}
}

func enableCmd() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Toggle the escalation kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.pool.Close()

			if err := a.settingsRepo.SetEnabled(ctx, settings.AutomationEscalation, !off); err != nil {
				return err
			}
			fmt.Printf("escalation automation enabled=%v\n", !off)
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "disable instead of enable")
	return cmd
}
