package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/hailam/reflex/internal/config"
	"github.com/hailam/reflex/internal/console"
	"github.com/hailam/reflex/internal/engine"
	"github.com/hailam/reflex/internal/model"
	"github.com/hailam/reflex/internal/storage"
	"github.com/hailam/reflex/internal/transport"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, fs, err := config.Parse(args, os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reflex: %v\n", err)
		return 1
	}

	switch cfg.Mode() {
	case config.ModeHelp:
		fmt.Fprintf(fs.Output(), "Usage: reflex -standalone|-managed -env NAME -action NAME [-control NAME] [options]\n\n")
		fs.PrintDefaults()
		return 0
	case config.ModeVersion:
		fmt.Printf("reflex %s\n", version)
		return 0
	}

	stdr.SetVerbosity(cfg.Verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("reflex")

	// Start CPU profiling if requested (via flag or environment variable)
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			logger.Error(err, "could not create CPU profile")
			return 1
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Error(err, "could not start CPU profile")
			return 1
		}
		defer pprof.StopCPUProfile()
		logger.Info("CPU profiling enabled", "path", cfg.CPUProfile)
	}

	var store *storage.Storage
	storeDir, err := cfg.StoreDir()
	if err != nil {
		logger.Error(err, "could not resolve store directory")
		return 1
	}
	if storeDir != "" {
		store, err = storage.Open(storeDir, logger.WithName("storage"))
		if err != nil {
			logger.Error(err, "could not open store")
			return 1
		}
		defer store.Close()
	}

	if cfg.History > 0 {
		if err := printHistory(store, cfg.History); err != nil {
			logger.Error(err, "could not read run history")
			return 1
		}
	}

	src := engine.RandomSource(cfg.Seed)
	switch {
	case cfg.Load != "":
		src = engine.FileSource(cfg.Load)
	case cfg.Model != "":
		src = engine.ArchiveSource(store, cfg.Model)
	}

	if cfg.Mode() == config.ModeOffline {
		if cfg.Export == "" {
			return 0
		}
		if err := exportOffline(cfg.Export, src, store, logger); err != nil {
			logger.Error(err, "export failed")
			return 1
		}
		return 0
	}

	tr, err := transport.OpenShared(cfg.ShmDir, cfg.Names(), cfg.Create)
	if err != nil {
		logger.Error(err, "could not open transport", "dir", cfg.ShmDir, "names", cfg.Names())
		return 1
	}
	defer tr.Close()

	eng := engine.New(tr,
		engine.WithLogger(logger.WithName("engine")),
		engine.WithStrict(cfg.Strict),
		engine.WithInterval(cfg.Interval))
	if err := eng.Init(src); err != nil {
		logger.Error(err, "could not initialize engine")
		return 1
	}
	defer eng.Unload()

	modelID := ""
	if cfg.Export != "" {
		if err := model.Save(cfg.Export, eng.Network()); err != nil {
			logger.Error(err, "could not export model", "path", cfg.Export)
			return 1
		}
		logger.Info("model exported", "path", cfg.Export)
	}
	if store != nil {
		info, err := store.PutModel(eng.Network(), eng.Source())
		if err != nil {
			logger.Error(err, "could not archive model")
		} else {
			modelID = info.Checksum
			logger.V(1).Info("model archived", "checksum", info.Checksum,
				"size", humanize.Bytes(uint64(info.Size)), "stored", humanize.Bytes(uint64(info.Stored)))
		}
	}

	record := storage.RunRecord{
		Model:   modelID,
		Source:  eng.Source(),
		Managed: cfg.Managed,
		Started: time.Now(),
	}
	runErr := supervise(eng, cfg.Console, logger)

	st := eng.Stats()
	record.Ended = time.Now()
	record.Cycles = st.Cycles
	record.LastCycle = st.LastLatency
	if runErr != nil {
		record.Error = runErr.Error()
	}
	if store != nil {
		if err := store.RecordRun(&record); err != nil {
			logger.Error(err, "could not record run")
		}
	}

	if runErr != nil {
		logger.Error(runErr, "control loop failed")
		return 1
	}
	logger.Info("done", "cycles", humanize.Comma(int64(st.Cycles)), "elapsed", record.Duration().Round(time.Millisecond))
	return 0
}

// supervise runs the control loop next to the signal watcher and, if enabled,
// the console. The first to finish ends the others.
func supervise(eng *engine.Engine, withConsole bool, logger logr.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return eng.Run(ctx)
	})

	g.Go(func() error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		select {
		case sig := <-sigc:
			logger.Info("shutdown signal received", "signal", sig.String())
			eng.Stop()
		case <-ctx.Done():
		}
		return nil
	})

	if withConsole {
		g.Go(func() error {
			return console.New(eng, os.Stdin, os.Stdout).Run(ctx)
		})
	}
	return g.Wait()
}

// exportOffline writes the network src supplies to path without opening a
// transport.
func exportOffline(path string, src engine.Source, store *storage.Storage, logger logr.Logger) error {
	net, err := src.Load()
	if err != nil {
		return err
	}
	defer net.Release()

	if err := model.Save(path, net); err != nil {
		return err
	}
	logger.Info("model exported", "path", path, "source", src, "shape", net.Shape())
	if store != nil {
		if _, err := store.PutModel(net, src.String()); err != nil {
			return err
		}
	}
	return nil
}

func printHistory(store *storage.Storage, n int) error {
	runs, err := store.Runs(n)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "ok"
		if r.Error != "" {
			status = r.Error
		}
		fmt.Printf("%s  %-12s  %s cycles in %v  model %s  %s\n",
			r.ID, humanize.Time(r.Started), humanize.Comma(int64(r.Cycles)),
			r.Duration().Round(time.Millisecond), r.Model, status)
	}
	models, err := store.Models()
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Printf("model %s  %v  %s (%s stored)  %s  %s\n",
			m.Checksum, m.Shape, humanize.Bytes(uint64(m.Size)), humanize.Bytes(uint64(m.Stored)),
			humanize.Time(m.Created), m.Source)
	}
	stats, err := store.LoadStats()
	if err != nil {
		return err
	}
	fmt.Printf("%d runs, %d failed, %s cycles, %.1f cycles/s\n",
		stats.Runs, stats.Failed, humanize.Comma(int64(stats.TotalCycles)), stats.CyclesPerSecond())
	return nil
}
