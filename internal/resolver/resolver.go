// Package resolver reads typed configuration values with caller supplied
// defaults. Lookups never fail: a missing key or a value of the wrong type
// resolves to the default.
package resolver

import (
	"go.uber.org/zap"

	"github.com/eugenenazirov/launchkitd/internal/configstore"
)

// Source is the read side of a configuration store.
type Source interface {
	Lookup(key string) (configstore.Value, bool)
}

// Resolver exposes typed accessors over a Source. It does not own the
// source and performs no I/O.
type Resolver struct {
	source Source
	logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger enables debug logging of type mismatches.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Resolver reading from source.
func New(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bool returns the boolean stored under key, or def.
func (r *Resolver) Bool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.AsBool()
	if !ok {
		r.mismatch(key, configstore.KindBool, v)
		return def
	}
	return b
}

// Int returns the integer stored under key, or def.
func (r *Resolver) Int(key string, def int64) int64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	i, ok := v.AsInt()
	if !ok {
		r.mismatch(key, configstore.KindInt, v)
		return def
	}
	return i
}

// Double returns the double stored under key, or def.
func (r *Resolver) Double(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, ok := v.AsDouble()
	if !ok {
		r.mismatch(key, configstore.KindDouble, v)
		return def
	}
	return f
}

// String returns the string stored under key, or def.
func (r *Resolver) String(key string, def string) string {
	if s := r.OptionalString(key, &def); s != nil {
		return *s
	}
	return def
}

// OptionalString returns the string stored under key, or def. It is the
// only accessor that accepts a nil default and may return nil.
func (r *Resolver) OptionalString(key string, def *string) *string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, ok := v.AsString()
	if !ok {
		r.mismatch(key, configstore.KindString, v)
		return def
	}
	return &s
}

func (r *Resolver) lookup(key string) (configstore.Value, bool) {
	if r == nil || r.source == nil || key == "" {
		return configstore.Value{}, false
	}
	return r.source.Lookup(key)
}

func (r *Resolver) mismatch(key string, want configstore.Kind, got configstore.Value) {
	r.logger.Debug("config type mismatch, using default",
		zap.String("key", key),
		zap.Stringer("want", want),
		zap.Stringer("got", got.Kind()),
	)
}
