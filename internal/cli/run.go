package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/vivarium/internal/cache"
	"github.com/lazypower/vivarium/internal/collab"
	"github.com/lazypower/vivarium/internal/config"
	"github.com/lazypower/vivarium/internal/engine"
	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/policy"
	"github.com/lazypower/vivarium/internal/server"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the life loop, the HTTP API and the enabled producers",
	Long:  "Resume the latest snapshot (or start a new life) and tick until interrupted. A final snapshot is written on shutdown.",
	RunE:  runLife,
}

// rig is everything a running life owns.
type rig struct {
	cfg       config.Config
	db        *store.DB
	snapshots *store.SnapshotDir
	ticks     *store.TickLog
	queue     *stimulus.Queue
	mirror    *engine.Mirror
	engine    *engine.Engine
	restored  bool
}

// openRig opens the data directory and assembles the engine. The caller
// must Close the rig.
func openRig(cfg config.Config, log *zap.Logger) (*rig, error) {
	dir := cfg.Data.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(store.DBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r := &rig{cfg: cfg, db: db}

	r.snapshots, err = store.NewSnapshotDir(filepath.Join(dir, "snapshots"), cfg.Data.KeepSnapshots)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.snapshots.Logger = log.Named("snapshot")
	r.ticks, err = store.OpenTickLog(filepath.Join(dir, store.TickLogFile))
	if err != nil {
		r.Close()
		return nil, err
	}

	c := cache.New(cfg.Cache.Capacity)
	opts := engine.StateOptions(cfg, memory.WithDecayCurve(c.DecayMultiplier))

	state, err := r.loadState(opts, log)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.queue = stimulus.NewQueue(cfg.Loop.QueueCapacity)
	r.mirror = engine.NewMirror(db, engine.DefaultMirrorCapacity, log.Named("mirror"))
	policies := engine.Policies{
		Snapshot: &policy.SnapshotPolicy{
			Every:  cfg.Policy.SnapshotEvery,
			Writer: r.snapshots,
			Logger: log.Named("snapshot"),
		},
		Flush: &policy.LogFlushPolicy{
			Every:          cfg.Policy.FlushEvery,
			BeforeSnapshot: cfg.Policy.FlushBeforeSnapshot,
			AfterSnapshot:  cfg.Policy.FlushAfterSnapshot,
			OnError:        cfg.Policy.FlushOnError,
			Flusher:        r.ticks,
			Logger:         log.Named("flush"),
		},
		Weakness: engine.WeaknessFromConfig(cfg),
	}
	r.engine = engine.New(state, r.queue, collab.Defaults(), policies, engine.OptionsFromConfig(cfg),
		engine.WithLogger(log.Named("loop")),
		engine.WithCache(c),
		engine.WithTickSink(r.ticks),
		engine.WithMirror(r.mirror),
	)
	return r, nil
}

// loadState resumes the newest readable snapshot, or starts a new life when
// there is none.
func (r *rig) loadState(opts life.Options, log *zap.Logger) (*life.State, error) {
	snap, info, err := r.snapshots.LoadLatest()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		st := life.New(opts)
		log.Info("new life", zap.String("life", st.ID()))
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	st, err := life.Restore(snap, opts)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", info.Path, err)
	}
	r.restored = true
	log.Info("life resumed",
		zap.String("life", st.ID()),
		zap.Uint64("tick", st.Ticks()),
		zap.String("snapshot", info.Path))
	return st, nil
}

// Close releases the tick log and database. Safe on a partial rig.
func (r *rig) Close() error {
	var errs []error
	if r.ticks != nil {
		errs = append(errs, r.ticks.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// producers returns the enabled stimulus sources.
func (r *rig) producers(log *zap.Logger) ([]func(context.Context) error, error) {
	p := r.cfg.Producers
	var out []func(context.Context) error

	if p.Generator.Enabled {
		g := stimulus.NewGenerator(r.queue, p.Generator.Interval, p.Generator.Categories, p.Generator.Seed, log)
		out = append(out, g.Run)
	}
	if p.Host.Enabled {
		h := stimulus.NewHostSampler(r.queue, p.Host.Interval, p.Host.Baseline, log)
		out = append(out, h.Run)
	}
	if p.Inbox.Enabled {
		dir := p.Inbox.Dir
		if dir == "" {
			dir = filepath.Join(r.cfg.Data.Dir, "inbox")
		}
		w, err := stimulus.NewInboxWatcher(dir, r.queue, log)
		if err != nil {
			return nil, err
		}
		out = append(out, w.Run)
	}
	return out, nil
}

// serve runs the loop, the API and the producers until ctx is cancelled or
// one of them fails.
func (r *rig) serve(ctx context.Context, addr string, log *zap.Logger) error {
	producers, err := r.producers(log)
	if err != nil {
		return err
	}

	srv := server.New(r.db, r.engine, r.queue, VersionString(), log.Named("api"))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.engine.Run(ctx)
	})
	g.Go(func() error {
		return r.mirror.Run(ctx)
	})
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	for _, run := range producers {
		g.Go(func() error { return run(ctx) })
	}
	return g.Wait()
}

func runLife(cmd *cobra.Command, args []string) error {
	r, err := openRig(cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("vivarium starting",
		zap.String("version", VersionString()),
		zap.String("data", cfg.Data.Dir),
		zap.Bool("restored", r.restored))

	if err := r.serve(ctx, cfg.ListenAddr(), logger); err != nil {
		return err
	}
	logger.Info("vivarium stopped")
	return nil
}
