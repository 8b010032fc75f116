// Command sweeper runs the notification recovery and license expiry
// sweeps against the live table. The default is a single pass for cron or
// scheduled-task environments; -daemon keeps the jittered sweep loops
// running in the foreground instead.
//
// Running next to a live hub instance is safe: the conditional claim on
// each notification decides which process delivers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sankeyhub/internal/config"
	"sankeyhub/internal/infrastructure"
	"sankeyhub/internal/license"
	"sankeyhub/internal/lifecycle"
	"sankeyhub/internal/notify"
	"sankeyhub/internal/scheduler"
	"sankeyhub/internal/security"
	"sankeyhub/internal/store"
)

func main() {
	daemon := flag.Bool("daemon", false, "keep the sweep loops running instead of doing a single pass")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall budget for a single pass")
	flag.Parse()

	if err := run(*daemon, *timeout); err != nil {
		slog.Error("sweeper failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(daemon bool, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)
	defer infrastructure.CloseLogFile()

	ctx := context.Background()

	client, err := store.NewClient(ctx, cfg.Dynamo)
	if err != nil {
		return fmt.Errorf("create dynamodb client: %w", err)
	}
	st := store.NewDynamoStore(client, cfg.Dynamo, logger)

	masterKey, err := license.KeyFromConfig(cfg.License)
	if err != nil {
		return fmt.Errorf("derive license key: %w", err)
	}
	codec, err := license.NewCodec(masterKey)
	if err != nil {
		return fmt.Errorf("create license codec: %w", err)
	}

	var gmailCredentials []byte
	if cfg.Notification.Mode == "gmail" {
		manager, err := security.NewCredentialsManager(cfg.Notification.GmailCredentials, logger)
		if err != nil {
			return fmt.Errorf("open gmail credentials: %w", err)
		}
		defer manager.Close()
		if gmailCredentials, err = manager.GetCredentials(ctx); err != nil {
			return fmt.Errorf("read gmail credentials: %w", err)
		}
	}

	notifier, err := notify.New(ctx, cfg.Notification, gmailCredentials, logger)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	machine := lifecycle.NewMachine(st, codec, cfg.Notification, logger)
	sched := scheduler.New(st, machine, notifier, cfg.Notification, logger)
	machine.SetScheduler(sched)

	if daemon {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		sched.Start(runCtx)

		logger.Info("sweeper running",
			slog.Duration("recovery_interval", cfg.Notification.RecoveryInterval),
			slog.Duration("expiry_interval", cfg.Notification.ExpirySweep))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		return sched.Stop(30 * time.Second)
	}

	passCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fired, expired := sched.RunOnce(infrastructure.EnsureTraceID(passCtx))
	logger.Info("sweep complete",
		slog.Int("notifications_fired", fired),
		slog.Int("licenses_expired", expired))

	return nil
}
