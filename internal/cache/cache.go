package cache

import (
	"context"
	"time"

	"scanpos/backend/internal/domain"
)

// ProductCache caches product lookups by scan code for the hot scan path.
// The cache is read-through only: misses and errors fall back to the store,
// and every stock or catalog mutation invalidates the entry.
type ProductCache interface {
	Get(ctx context.Context, scanCode string) (*domain.Product, bool, error)
	Set(ctx context.Context, scanCode string, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, scanCodes ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
