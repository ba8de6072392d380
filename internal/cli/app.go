package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/httpapi"
	"catalogsync/internal/lock"
	"catalogsync/internal/logging"
	"catalogsync/internal/runlog"
	"catalogsync/internal/source"
	"catalogsync/internal/store"
	"catalogsync/internal/syncer"

	"github.com/redis/go-redis/v9"
)

// app holds the long-lived handles built once per command.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	store   *store.SQLStore
	journal *runlog.Journal
	rdb     *redis.Client
}

// openApp connects to the store and, when enabled, the run journal.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, dialect, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		db:    db,
		store: store.New(db, dialect, cfg.Store.Table),
	}
	if cfg.History.Enabled {
		a.journal = runlog.NewJournal(db, dialect)
	}
	if cfg.Store.AutoMigrate {
		if err := a.migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	if a.journal != nil {
		if err := a.journal.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newSyncer builds the fetcher and the sync pipeline.
func (a *app) newSyncer(ctx context.Context) (*syncer.Syncer, error) {
	fetcher, err := source.New(ctx, a.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("configure source: %w", err)
	}
	return syncer.New(fetcher, a.store, syncer.WithConcurrency(a.cfg.Sync.Concurrency)), nil
}

// newScheduler wires the syncer with locking and the run history hook.
func (a *app) newScheduler(ctx context.Context, runOnStart bool) (*syncer.Scheduler, error) {
	s, err := a.newSyncer(ctx)
	if err != nil {
		return nil, err
	}
	opts := []syncer.SchedulerOption{
		syncer.WithInterval(a.cfg.Sync.Interval),
		syncer.WithCycleTimeout(a.cfg.Sync.CycleTimeout),
		syncer.WithRunOnStart(runOnStart),
	}
	if a.journal != nil {
		opts = append(opts, syncer.WithResultHook("runlog", runlog.Hook(a.journal)))
	}
	if a.cfg.Lock.Enabled() {
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, syncer.WithDistributedLock(lock.NewRedis(rdb, a.cfg.Lock.Key, a.cfg.Lock.TTL)))
	}
	return syncer.NewScheduler(s, opts...), nil
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lock.RedisAddr,
		Password: a.cfg.Lock.RedisPassword,
		DB:       a.cfg.Lock.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Lock.RedisAddr, err)
	}
	a.rdb = rdb
	return rdb, nil
}

// runs returns the journal as a lister, or nil when history is disabled.
func (a *app) runs() httpapi.RunLister {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

func (a *app) Close() {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.db.Close())
	if err := errors.Join(errs...); err != nil {
		logging.Default().Warn().Err(err).Msg("close resources")
	}
}
