package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run cycles on the configured cron schedule",
	Long:  "Starts a scheduler that runs the daily prospecting cycle and the midnight counter reset until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c := cron.New()

		_, err = c.AddFunc(cfg.Schedule.CycleSpec, func() {
			zap.L().Info("scheduled cycle starting")
			if err := env.Engine.RunAllCycles(ctx); err != nil {
				zap.L().Error("scheduled cycle failed", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid cycle spec %q", cfg.Schedule.CycleSpec)
		}

		_, err = c.AddFunc(cfg.Schedule.ResetSpec, func() {
			if err := resetDailyState(ctx, env); err != nil {
				zap.L().Error("daily reset failed", zap.Error(err))
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid reset spec %q", cfg.Schedule.ResetSpec)
		}

		c.Start()
		zap.L().Info("scheduler started",
			zap.String("cycle", cfg.Schedule.CycleSpec),
			zap.String("reset", cfg.Schedule.ResetSpec),
		)

		<-ctx.Done()
		zap.L().Info("scheduler stopping")
		<-c.Stop().Done()
		return nil
	},
}

// resetDailyState zeroes the per-day send counters and advances warmup
// for every active organization.
func resetDailyState(ctx context.Context, env *env) error {
	orgs, err := env.Store.ListOrganizations(ctx, true)
	if err != nil {
		return err
	}
	pool := env.Engine.Pool()
	for _, org := range orgs {
		reset, err := pool.ResetDaily(ctx, org.ID)
		if err != nil {
			return eris.Wrapf(err, "reset counters for %s", org.Name)
		}
		advanced, err := pool.AdvanceWarmupDay(ctx, org.ID)
		if err != nil {
			return eris.Wrapf(err, "advance warmup for %s", org.Name)
		}
		zap.L().Info("daily reset complete",
			zap.String("org", org.Name),
			zap.Int("accounts_reset", reset),
			zap.Int("accounts_warming", advanced),
		)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
