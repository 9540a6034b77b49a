package cache

import (
	"context"
	"time"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

// MasterListCache holds fetched master candidate lists so cart mutations can
// be served by a pure re-filter instead of a new sourcing pass.
type MasterListCache interface {
	Get(ctx context.Context, key string) ([]domain.Candidate, bool, error)
	Set(ctx context.Context, key string, master []domain.Candidate, ttl time.Duration) error
	Invalidate(ctx context.Context, keyPrefix string) error
}

// NoopMasterListCache disables caching; every request re-sources.
type NoopMasterListCache struct{}

func (NoopMasterListCache) Get(_ context.Context, _ string) ([]domain.Candidate, bool, error) {
	return nil, false, nil
}

func (NoopMasterListCache) Set(_ context.Context, _ string, _ []domain.Candidate, _ time.Duration) error {
	return nil
}

func (NoopMasterListCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
