package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/simpletalk/kernel/internal/config"
	"github.com/simpletalk/kernel/internal/core/event"
	"github.com/simpletalk/kernel/internal/core/part"
	coresys "github.com/simpletalk/kernel/internal/core/system"
	"github.com/simpletalk/kernel/internal/data"
	"github.com/simpletalk/kernel/internal/parts"
	"github.com/simpletalk/kernel/internal/persist"
	"github.com/simpletalk/kernel/internal/scripting"
	"github.com/simpletalk/kernel/internal/system"
	"github.com/simpletalk/kernel/internal/view"
	"github.com/simpletalk/kernel/internal/vision"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner() {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m          SimpleTalk kernel  v0.1.0        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Kernel ────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner()

	// 3. Open the snapshot store
	printSection("Storage")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := persist.Open(ctx, cfg.Persist, log)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	if store != nil {
		defer store.Close()
		printOK(fmt.Sprintf("snapshot store ready (%s)", cfg.Persist.Driver))
		saved, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		printStat("saved snapshots", len(saved))
		for _, info := range saved {
			log.Debug("snapshot",
				zap.String("name", info.Name),
				zap.Int("parts", info.PartCount),
				zap.Time("saved", info.SavedAt),
			)
		}
	} else {
		printOK("persistence disabled")
	}
	fmt.Println()

	// 4. Kernel loop plumbing. Everything below the inbox runs on the loop
	// goroutine; collaborators post into the queue.
	inbox := event.NewQueue()
	bus := event.NewBus()

	poller := vision.NewPoller(&http.Client{}, vision.Config{
		MinPollTime:    cfg.Vision.MinPollTime,
		RequestTimeout: cfg.Vision.RequestTimeout,
	}, inbox.Post, log.Named("vision"))
	defer poller.Close()

	factory := part.NewFactory(log)
	factory.SetMaxNotifyDepth(cfg.Kernel.MaxNotifyDepth)
	parts.RegisterAll(factory, &parts.Deps{
		Poller:         poller,
		VisionURL:      cfg.Vision.URL,
		CursorPollTime: cfg.Vision.PollTime,
		Log:            log,
	})

	// 5. Scripting
	printSection("Scripting")
	var engine *scripting.Engine
	if cfg.Scripting.Enabled {
		engine, err = scripting.NewEngine(cfg.Scripting.LibDir, log.Named("lua"))
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer engine.Close()
		printOK("Lua engine ready")
	} else {
		printOK("scripting disabled")
	}
	sys := scripting.NewSystem(factory, engine, log)
	fmt.Println()

	// 6. Restore the world or build it from templates
	printSection("World")
	restored, err := loadWorld(ctx, cfg, store, factory, log)
	if err != nil {
		return err
	}
	printStat("parts", factory.Len())

	// 7. Systems
	runner := coresys.NewRunner(log)
	runner.Register(system.NewInboxSystem(inbox, factory, bus, cfg.Kernel.InboxSize, log))
	runner.Register(system.NewEventDispatchSystem(bus))

	var autosave *system.AutosaveSystem
	if store != nil {
		autosave = system.NewAutosaveSystem(factory, store, cfg.Persist.SnapshotName, bus, log,
			int(cfg.Kernel.AutosaveInterval/cfg.Kernel.TickRate))
		if restored != nil {
			autosave.MarkSaved(restored)
		}
		runner.Register(autosave)
	}

	event.Subscribe(bus, func(e event.NotUnderstood) { sys.NotUnderstood(e.Notice) })
	event.Subscribe(bus, func(e event.SnapshotFailed) {
		log.Warn("snapshot not saved", zap.String("snapshot", e.Name), zap.Error(e.Err))
	})

	// 8. View bridge
	var bridge *view.Bridge
	if cfg.Bridge.BindAddress != "" {
		bridge = view.NewBridge(factory, inbox, view.BridgeConfig{
			OutQueueSize: cfg.Bridge.OutQueueSize,
			WriteTimeout: cfg.Bridge.WriteTimeout,
		}, log.Named("bridge"))
		if err := bridge.Start(cfg.Bridge.BindAddress); err != nil {
			return fmt.Errorf("view bridge: %w", err)
		}
		event.Subscribe(bus, func(e event.SnapshotSaved) {
			bridge.Broadcast(view.Reply{Op: "saved", PartID: part.WorldID})
		})
	}
	fmt.Println()

	// 9. Kernel loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Kernel.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	if bridge != nil {
		printReady(fmt.Sprintf("view bridge on %s", bridge.Addr().String()))
	}
	printReady(fmt.Sprintf("kernel loop running (tick: %s)", cfg.Kernel.TickRate))
	fmt.Println()
	log.Info("kernel ready",
		zap.Time("started", time.Unix(cfg.Kernel.StartTime, 0)),
		zap.Int("parts", factory.Len()),
	)

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Kernel.TickRate)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			poller.Close()
			// Drain what collaborators already posted before the final save.
			runner.TickPhase(coresys.PhaseInput, cfg.Kernel.TickRate)
			if n := bus.Pending(); n > 0 {
				log.Debug("flushing events", zap.Int("pending", n))
				bus.SwapBuffers()
				bus.DispatchAll()
			}
			if autosave != nil {
				if err := autosave.SaveNow(); err != nil {
					log.Error("final save failed", zap.Error(err))
				}
			}
			if bridge != nil {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				if err := bridge.Shutdown(shutdownCtx); err != nil {
					log.Warn("view bridge shutdown", zap.Error(err))
				}
				done()
			}
			log.Info("kernel stopped", zap.Uint64("ticks", runner.Ticks()))
			return nil
		}
	}
}

// loadWorld restores the saved snapshot when there is one and otherwise
// builds the world from the yaml template. It returns the restored
// snapshot bytes, or nil for a fresh world.
func loadWorld(ctx context.Context, cfg *config.Config, store persist.SnapshotStore, f *part.Factory, log *zap.Logger) ([]byte, error) {
	if store != nil {
		snap, err := store.Load(ctx, cfg.Persist.SnapshotName)
		switch {
		case err == nil:
			if _, err := f.Deserialize(snap); err != nil {
				return nil, fmt.Errorf("restore snapshot %s: %w", cfg.Persist.SnapshotName, err)
			}
			printOK(fmt.Sprintf("restored snapshot %q", cfg.Persist.SnapshotName))
			return snap, nil
		case !errors.Is(err, persist.ErrNoSnapshot):
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
	}

	tmpl, err := data.LoadWorldTemplate(cfg.Templates.Path)
	if err != nil {
		log.Warn("world template unavailable, using default world",
			zap.String("path", cfg.Templates.Path), zap.Error(err))
		tmpl = data.DefaultWorld()
	}
	if _, err := tmpl.Build(f); err != nil {
		return nil, fmt.Errorf("build world: %w", err)
	}
	printOK("world built from template")
	return nil, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
