// Package cache keeps parsed process models in memory so instance loads do not re-parse deployed documents.
package cache

import (
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/cache"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
)

// Backend defines interface for a Backend
//
//go:generate mockery
type Backend interface {
	Get(key string) (*process.Model, bool)
	Set(key string, value *process.Model) bool
}

// NewRistrettoCacheBackend constructs a ristretto backed model cache holding at most maxModels entries.
func NewRistrettoCacheBackend(maxModels int64) (Backend, error) { //nolint:ireturn
	be, err := cache.NewRistrettoCacheBackend[string, *process.Model](maxModels)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return be, nil
}

// SharCache provides caching of process models by definition id.
type SharCache struct {
	cacheBackend Backend
}

// NewSharCache constructs a new SharCache
func NewSharCache(backend Backend) *SharCache {
	return &SharCache{
		cacheBackend: backend,
	}
}

// Model returns a private copy of the model for a definition, calling load only when the model is not cached.
// The cached original is never handed out.
func (c *SharCache) Model(definitionID string, load func() (*process.Model, error)) (*process.Model, error) {
	m, err := cache.Cacheable[string, *process.Model](definitionID, load, c.cacheBackend)
	if err != nil {
		return nil, fmt.Errorf("load model for definition %s: %w", definitionID, err)
	}
	return m.Clone(), nil
}
