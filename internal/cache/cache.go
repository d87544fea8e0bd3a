package cache

import (
	"context"
	"time"

	"marketplace/backend/internal/domain"
)

// QuoteCache stores computed catalog prices keyed by a fingerprint of every
// pricing input.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*domain.ProductPrice, bool, error)
	Set(ctx context.Context, key string, value *domain.ProductPrice, ttl time.Duration) error
}

type NoopQuoteCache struct{}

func (NoopQuoteCache) Get(_ context.Context, _ string) (*domain.ProductPrice, bool, error) {
	return nil, false, nil
}

func (NoopQuoteCache) Set(_ context.Context, _ string, _ *domain.ProductPrice, _ time.Duration) error {
	return nil
}
