package configstore

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrEmptyKey is returned when a configuration key is the empty string.
	ErrEmptyKey = errors.New("config key must not be empty")
	// ErrInvalidDocument is returned when a configuration document cannot be decoded.
	ErrInvalidDocument = errors.New("invalid config document")
)

// Snapshot is an immutable view of the store at one version.
type Snapshot struct {
	values    map[string]Value
	overrides int
	version   uint64
	updatedAt time.Time
}

// Lookup returns the raw value for key.
func (s *Snapshot) Lookup(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Version is zero for the defaults-only snapshot and grows by one per Replace.
func (s *Snapshot) Version() uint64 { return s.version }

// UpdatedAt reports when the snapshot was built.
func (s *Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// Len returns the number of keys visible in the snapshot.
func (s *Snapshot) Len() int { return len(s.values) }

// Overrides returns how many keys came from the last remote document.
func (s *Snapshot) Overrides() int { return s.overrides }

// Keys returns the visible keys in sorted order.
func (s *Snapshot) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Values returns a copy of the visible key/value pairs.
func (s *Snapshot) Values() map[string]Value {
	return maps.Clone(s.values)
}

// Store layers remote overrides over compiled-in defaults. Reads are lock
// free; Replace builds a new snapshot and publishes it with one pointer swap.
type Store struct {
	defaults map[string]Value
	clock    func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates a store whose initial snapshot holds only defaults.
func NewStore(defaults map[string]Value, opts ...Option) (*Store, error) {
	if err := validateKeys(defaults); err != nil {
		return nil, err
	}

	s := &Store{
		defaults: maps.Clone(defaults),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	if s.defaults == nil {
		s.defaults = map[string]Value{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.current.Store(&Snapshot{
		values:    maps.Clone(s.defaults),
		updatedAt: s.clock(),
	})
	return s, nil
}

// Lookup returns the raw value for key from the current snapshot.
func (s *Store) Lookup(key string) (Value, bool) {
	return s.current.Load().Lookup(key)
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Version returns the version of the current snapshot.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Replace discards the previous overrides and publishes defaults merged
// with overrides as a new snapshot. The input map is copied.
func (s *Store) Replace(overrides map[string]Value) (*Snapshot, error) {
	if err := validateKeys(overrides); err != nil {
		return nil, err
	}

	merged := make(map[string]Value, len(s.defaults)+len(overrides))
	maps.Copy(merged, s.defaults)
	maps.Copy(merged, overrides)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Snapshot{
		values:    merged,
		overrides: len(overrides),
		version:   s.current.Load().version + 1,
		updatedAt: s.clock(),
	}
	s.current.Store(next)
	return next, nil
}

func validateKeys(values map[string]Value) error {
	for key := range values {
		if key == "" {
			return ErrEmptyKey
		}
	}
	return nil
}
