package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal byte-oriented cache operations used by the engine.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found or has expired.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX reports success without storing anything.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }

// Prefixed namespaces every key of the wrapped provider.
func Prefixed(p Provider, prefix string) Provider {
	if prefix == "" {
		return p
	}
	return prefixedProvider{inner: p, prefix: prefix}
}

type prefixedProvider struct {
	inner  Provider
	prefix string
}

func (p prefixedProvider) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p prefixedProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.inner.Set(ctx, p.prefix+key, value, ttl)
}

func (p prefixedProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.inner.SetNX(ctx, p.prefix+key, value, ttl)
}

func (p prefixedProvider) Del(ctx context.Context, key string) error {
	return p.inner.Del(ctx, p.prefix+key)
}

func (p prefixedProvider) Close() error { return p.inner.Close() }
