package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lumen-lms/lumen/cmd/lumen/cli"
	"github.com/lumen-lms/lumen/internal/app"
)

const jobsUsage = "usage: lumen jobs trigger <task> [meeting-id] | lumen jobs stats | lumen jobs retries"

// runJobsCommand handles the "lumen jobs ..." maintenance subcommands.
func runJobsCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 2
	}
	jc, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jc.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, jobsUsage)
			return 2
		}
		var arg string
		if len(args) > 2 {
			arg = args[2]
		}
		info, err := jc.Trigger(ctx, args[1], arg)
		if err != nil {
			logger.Error("trigger job", slog.String("task", args[1]), slog.Any("error", err))
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			logger.Error("inspect queue", slog.Any("error", err))
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "retries":
		tasks, err := jc.ListRetrying(ctx, 20)
		if err != nil {
			logger.Error("list retries", slog.Any("error", err))
			return 1
		}
		for _, t := range tasks {
			fmt.Printf("%s %s retried=%d last_err=%q\n", t.ID, t.Type, t.Retried, t.LastErr)
		}
	default:
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 2
	}
	return 0
}
