package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"github.com/co8/afkbridge/internal/afk"
	"github.com/co8/afkbridge/internal/approval"
	"github.com/co8/afkbridge/internal/batcher"
	"github.com/co8/afkbridge/internal/config"
	"github.com/co8/afkbridge/internal/dispatch"
	"github.com/co8/afkbridge/internal/listener"
	"github.com/co8/afkbridge/internal/mcpserver"
	"github.com/co8/afkbridge/internal/outbound"
	"github.com/co8/afkbridge/internal/ratelimit"
	"github.com/co8/afkbridge/internal/storage"
	"github.com/co8/afkbridge/internal/transport"
	"github.com/co8/afkbridge/internal/transport/telegram"
	"github.com/co8/afkbridge/pkg/logx"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./afkbridge.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logxConfig(cfg))
	defer logSvc.Close()

	pollTimeout, _ := config.ParseDuration(cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	target := transport.ChatTarget{ChatID: cfg.Telegram.ChatID}

	limiter := ratelimit.New(cfg.Rate.PerMinute, cfg.Rate.Burst)
	sender := outbound.NewSender(limiter, adapter, log.With(logx.String("comp", "outbound")))

	if cfg.Logging.Telegram {
		sink := logx.NewTelegramSink(func(sctx context.Context, text string) {
			_, _ = adapter.SendText(sctx, target, text, &transport.SendOptions{DisablePreview: true})
		})
		logSvc.SetTelegramSink(sink)
	}

	d := dispatch.New(adapter, log.With(logx.String("comp", "dispatch")))

	window, _ := config.ParseDuration(cfg.Batch.Window, 5*time.Second)
	b := batcher.New(batcher.Config{
		Window:     window,
		MaxPending: cfg.Batch.MaxPending,
	}, sender, target, log.With(logx.String("comp", "batcher")))

	staleAfter, _ := config.ParseDuration(cfg.Approval.StaleAfter, 24*time.Hour)
	coord := approval.New(approval.Config{
		Ceiling:    cfg.Approval.Ceiling,
		StaleAfter: staleAfter,
		IDPrefix:   cfg.Approval.IDPrefix,
	}, sender, d, target, log.With(logx.String("comp", "approval")))

	var st storage.Store
	var stopPrune func()
	if cfg.Storage != nil {
		busy, _ := config.ParseDuration(cfg.Storage.BusyTimeout, 5*time.Second)
		st, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		keep, _ := config.ParseDuration(cfg.Storage.Keep, 30*24*time.Hour)
		stopPrune, err = storage.StartPruner(st, cfg.Storage.PruneSchedule, keep, log.With(logx.String("comp", "prune")))
		if err != nil {
			return err
		}
	}
	if stopPrune != nil {
		defer stopPrune()
	}
	if st != nil {
		defer st.Close()
	}

	stateDir := cfg.State.Dir
	if stateDir == "" {
		stateDir = "./state"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return err
	}

	lst := listener.New(listener.Config{
		AuthorizedChat: cfg.Telegram.ChatID,
		CountPath:      filepath.Join(stateDir, "pending_count"),
	}, d, sender, log.With(logx.String("comp", "listener")))

	machine, err := afk.New(afk.Config{
		StatePath:  filepath.Join(stateDir, "away_state.json"),
		MarkerPath: filepath.Join(stateDir, "compacting_marker"),
	}, lst, b, log.With(logx.String("comp", "afk")))
	if err != nil {
		return err
	}
	if err := machine.Restore(ctx); err != nil {
		// Degraded: the bridge still serves tools, away mode can be
		// re-enabled manually.
		log.Error("away-mode restore failed", logx.Err(err))
	}

	mgr := config.NewManager(cfgPath, cfg, log.With(logx.String("comp", "config")))
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	snaps, unsub := mgr.Subscribe()
	defer unsub()
	go func() {
		for snap := range snaps {
			logSvc.Apply(logxConfig(snap))
		}
	}()

	srv := mcpserver.New(b, coord, lst, machine, st, log.With(logx.String("comp", "mcp")))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("afkbridge ready", logx.Int64("chat_id", cfg.Telegram.ChatID))

	runErr := srv.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Deliver anything still batched before going down.
	shCtx, shCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shCancel()
	if _, fallback, err := b.Flush(shCtx); fallback != "" || err != nil {
		log.Warn("final batch flush incomplete", logx.Err(err))
	}
	if err := lst.Stop(shCtx); err != nil {
		log.Warn("listener stop failed", logx.Err(err))
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File,
			Path:    cfg.Logging.FilePath,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram,
			MinLevel:   cfg.Logging.TelegramMinLevel,
			RatePerSec: cfg.Logging.TelegramRatePerSec,
		},
	}
}
