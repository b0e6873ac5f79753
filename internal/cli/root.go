// Package cli wires the engine together and exposes its run modes as
// subcommands. Each command is one complete run: build the app, do the work,
// report faults, exit.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sovereign/internal/config"
	"sovereign/internal/deploy"
	"sovereign/internal/dispatch"
	"sovereign/internal/domain"
	"sovereign/internal/faults"
	"sovereign/internal/logging"
)

var (
	cfgPath string
	taskID  string
)

var rootCmd = &cobra.Command{
	Use:   "sovereign",
	Short: "Autonomous daily content-intelligence engine",
	Long: `Sovereign collects topical news, runs a panel of analyst agents over it,
delivers per-consumer briefings, and governs the agents' own instruction
changes up to redeploying its own artifacts.`,
	SilenceUsage: true,
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.Init(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return newApp(cmd.Context(), cfg, log)
}

var briefingCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Run the daily briefing for every consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		day := domain.Day(time.Now())
		col := faults.NewCollector()
		reports := a.disp.RunBriefing(ctx, day, col)

		if filed := a.gov.SelfCritique(ctx, critiqueContext(col)); filed > 0 {
			a.log.Infof("self-critique filed %d proposals", filed)
		}

		if path, err := dispatch.ExportSnapshot(a.cfg.DataDir, day, reports, nil); err != nil {
			a.log.Warnf("snapshot export failed: %v", err)
		} else {
			a.log.Infof("snapshot written to %s", path)
			a.syncSnapshot(day)
		}

		a.finish(ctx, "briefing", col)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze the configured industry topics without delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		day := domain.Day(time.Now())
		col := faults.NewCollector()
		scans := a.disp.RunScan(ctx, day, col)

		if path, err := dispatch.ExportSnapshot(a.cfg.DataDir, day, nil, scans); err != nil {
			a.log.Warnf("snapshot export failed: %v", err)
		} else {
			a.log.Infof("snapshot written to %s", path)
			a.syncSnapshot(day)
		}

		a.finish(ctx, "scan", col)
		return nil
	},
}

var governanceCmd = &cobra.Command{
	Use:   "governance",
	Short: "Apply the approval deadline and execute approved proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		approved, err := a.gov.ApplyDeadline(ctx, time.Now())
		if err != nil {
			return err
		}
		executed, err := a.gov.ExecuteApproved(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("governance: %d auto-approved, %d executed\n", approved, executed)
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Develop and publish one confirmed backlog task",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.dep.Run(cmd.Context(), taskID)
		if errors.Is(err, deploy.ErrNoTask) {
			fmt.Println("deploy: no task ready")
			return nil
		}
		return err
	},
}

// finish runs the shared tail of a work run: usage totals plus the
// operational fault report.
func (a *app) finish(ctx context.Context, mode string, col *faults.Collector) {
	calls, cost, err := a.store.UsageTotals(ctx, col.Start())
	if err != nil {
		a.log.Warnf("usage totals unavailable: %v", err)
	}
	a.reporter.Report(ctx, mode, col, calls, cost)
}

// critiqueContext summarizes the run for the critic agent.
func critiqueContext(col *faults.Collector) string {
	s, f, k := col.Counts()
	out := fmt.Sprintf("Run outcome: %d succeeded, %d failed, %d skipped.\n", s, f, k)
	for _, rec := range col.Records() {
		out += fmt.Sprintf("- %s/%s: %s\n", rec.Stage, rec.Target, rec.Message)
	}
	return out
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sovereign.yml", "path to the config file")
	deployCmd.Flags().StringVar(&taskID, "task", "", "deploy this task id instead of the queue head")

	rootCmd.AddCommand(briefingCmd, scanCmd, governanceCmd, deployCmd, reviewCmd)
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
