// Package configsync keeps a configstore.Store in step with an external
// configuration document, replacing the store wholesale on every
// successful fetch.
package configsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/launchkitd/internal/configstore"
)

// Observer is notified after every sync attempt.
type Observer interface {
	ConfigSynced(version uint64, err error)
}

// Syncer pulls documents from a Source into a Store.
type Syncer struct {
	store    *configstore.Store
	source   Source
	interval time.Duration
	watch    bool
	logger   *zap.Logger
	observer Observer
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithInterval sets the polling period. Zero disables polling.
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) {
		s.interval = d
	}
}

// WithWatch enables change notifications when the source supports them.
func WithWatch(enabled bool) Option {
	return func(s *Syncer) {
		s.watch = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers a sync hook.
func WithObserver(o Observer) Option {
	return func(s *Syncer) {
		s.observer = o
	}
}

// New creates a Syncer.
func New(store *configstore.Store, source Source, opts ...Option) *Syncer {
	s := &Syncer{
		store:  store,
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncOnce fetches, decodes and publishes one document. On failure the
// current snapshot is left untouched.
func (s *Syncer) SyncOnce(ctx context.Context) (*configstore.Snapshot, error) {
	snap, err := s.sync(ctx)
	if s.observer != nil {
		s.observer.ConfigSynced(s.store.Version(), err)
	}
	if err != nil {
		s.logger.Warn("config sync failed", zap.Error(err))
		return nil, err
	}
	s.logger.Info("config synced",
		zap.Uint64("version", snap.Version()),
		zap.Int("overrides", snap.Overrides()),
	)
	return snap, nil
}

func (s *Syncer) sync(ctx context.Context) (*configstore.Snapshot, error) {
	data, err := s.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	values, err := configstore.Decode(data)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Replace(values)
	if err != nil {
		return nil, fmt.Errorf("replace config: %w", err)
	}
	return snap, nil
}

// Run syncs immediately and then on every tick or watch event until ctx
// is done. It returns ctx.Err().
func (s *Syncer) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var changes <-chan struct{}
	if w, ok := s.source.(Watcher); ok && s.watch {
		ch, err := w.Watch(ctx)
		if err != nil {
			s.logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			changes = ch
		}
	}

	// The watch is registered first so no write after the initial sync is missed.
	_, _ = s.SyncOnce(ctx)

	if tick == nil && changes == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			_, _ = s.SyncOnce(ctx)
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			_, _ = s.SyncOnce(ctx)
		}
	}
}

// IsStopped reports whether err is the normal result of cancelling Run.
func IsStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
