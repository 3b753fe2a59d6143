// cosd is the chief-of-staff daemon: it reads the task queues, dispatches
// coding agents against them, and serves the control API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/COSD/internal/config"
	"github.com/COSD/internal/events"
	"github.com/COSD/internal/instance"
	"github.com/COSD/internal/learning"
	"github.com/COSD/internal/natsio"
	"github.com/COSD/internal/notify"
	"github.com/COSD/internal/persistence"
	"github.com/COSD/internal/procmon"
	"github.com/COSD/internal/productivity"
	"github.com/COSD/internal/scheduler"
	"github.com/COSD/internal/server"
	"github.com/COSD/internal/supervisor"
	"github.com/COSD/internal/tasks"
	"github.com/COSD/internal/worktree"
)

func main() {
	var (
		dataRoot = flag.String("data", defaultDataRoot(), "data directory for state and config")
		addr     = flag.String("addr", "", "HTTP listen address (overrides config)")
	)
	flag.Parse()

	if err := run(*dataRoot, *addr); err != nil {
		log.Fatalf("[COSD] %v", err)
	}
}

func defaultDataRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cosd")
	}
	return ".cosd"
}

func run(dataRoot, addrOverride string) error {
	paths := config.Paths{Root: dataRoot}
	for _, dir := range []string{dataRoot, paths.AgentsDir(), paths.PromptsDir(), paths.WorktreesDir()} {
		if err := persistence.EnsureDir(dir); err != nil {
			return err
		}
	}

	cfg := config.Load(paths.Config())
	addr := cfg.HTTPAddr
	if addrOverride != "" {
		addr = addrOverride
	}

	inst := instance.NewManager(paths.PIDFile())
	if err := inst.Acquire(addr, dataRoot); err != nil {
		return err
	}
	defer inst.Release()

	// Event journal is best-effort: without it the bus still works, events
	// just are not persisted for external consumers.
	var journal events.Journal
	var schedJournal scheduler.Journal
	sqlStore, err := events.OpenSQLiteStore(paths.EventJournal())
	if err != nil {
		log.Printf("[COSD] Event journal unavailable: %v", err)
	} else {
		journal = sqlStore
		schedJournal = sqlStore
		defer sqlStore.Close()
	}
	bus := events.NewBus(journal)

	learn := learning.NewStore(paths.Learning())
	prod := productivity.NewStore(paths.Productivity())
	defer learn.Flush()
	defer prod.Flush()

	sinks := []notify.Notifier{notify.NewToast("Chief of Staff")}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL))
	}
	notifier := notify.NewManager(sinks...)
	prod.OnMilestone = notifier.Milestone

	userPath, internalPath := cfg.ResolveTaskPaths(dataRoot)
	taskStore := tasks.NewStore(bus, userPath, internalPath)
	taskStore.Load()

	recordStore, err := supervisor.NewRecordStore(paths.AgentsDir())
	if err != nil {
		return err
	}
	worktrees := worktree.NewManager(paths.WorktreesDir())
	sup := supervisor.New(cfg, bus, recordStore, procmon.NewMonitor(), worktrees, learn, prod, paths.PromptsDir())

	if recovered := sup.RecoverOrphans(); recovered > 0 {
		log.Printf("[COSD] Recovered %d orphaned agents from previous run", recovered)
	}
	if cfg.UseWorktrees && cfg.WorkspacePath != "" {
		if removed, err := worktrees.CleanupOrphans(cfg.WorkspacePath, sup.ActiveAgentIDs()); err != nil {
			log.Printf("[COSD] Worktree cleanup failed: %v", err)
		} else if len(removed) > 0 {
			log.Printf("[COSD] Removed %d orphaned worktrees", len(removed))
		}
	}

	activity := scheduler.NewActivityStore(paths.AppActivity())
	sched := scheduler.New(cfg, bus, taskStore, learn, sup, activity, schedJournal)

	// NATS is optional observation plumbing; the daemon runs without it
	var natsServer *natsio.EmbeddedServer
	var natsClient *natsio.Client
	var natsBridge *natsio.Bridge
	if cfg.NATSPort != 0 {
		natsServer = natsio.NewEmbeddedServer(cfg.NATSPort)
		if err := natsServer.Start(); err != nil {
			log.Printf("[COSD] NATS server failed to start: %v", err)
			natsServer = nil
		} else if natsClient, err = natsio.Connect(natsServer.URL()); err != nil {
			log.Printf("[COSD] NATS client failed to connect: %v", err)
		} else {
			natsBridge = natsio.NewBridge(bus, natsClient)
			log.Printf("[COSD] NATS bridge up on %s", natsServer.URL())
		}
	}
	defer func() {
		if natsBridge != nil {
			natsBridge.Close()
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if natsServer != nil {
			natsServer.Shutdown()
		}
	}()

	httpSrv := server.New(cfg, paths.Config(), bus, sched, sup, taskStore, learn, prod)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		learn.Run(ctx)
		return nil
	})
	g.Go(func() error {
		prod.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return tasks.Watch(ctx, taskStore, userPath, internalPath)
	})
	g.Go(func() error {
		return httpSrv.Start(ctx, addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("[COSD] Shutting down")

		if err := sched.Stop(); err != nil {
			log.Printf("[COSD] Scheduler stop: %v", err)
		}
		sup.Shutdown(cfg.ShutdownDrain())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.AutoStart {
		if err := sched.Start(); err != nil {
			return err
		}
	} else {
		log.Printf("[COSD] Auto-start disabled; waiting for control/start")
	}

	log.Printf("[COSD] Ready (data root %s)", dataRoot)
	return g.Wait()
}
