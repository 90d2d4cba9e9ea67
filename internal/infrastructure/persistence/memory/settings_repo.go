package memory

import (
	"context"
	"sync"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// SettingsRepository implements shared.SettingsRepository in memory.
type SettingsRepository struct {
	mu       sync.RWMutex
	settings *shared.EngineSettings
}

// NewSettingsRepository creates an empty repository.
func NewSettingsRepository() *SettingsRepository {
	return &SettingsRepository{}
}

// Load implements shared.SettingsRepository.
func (r *SettingsRepository) Load(ctx context.Context) (shared.EngineSettings, error) {
	if err := ctx.Err(); err != nil {
		return shared.EngineSettings{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return shared.EngineSettings{}, shared.ErrSettingsNotFound
	}
	return *r.settings, nil
}

// Save implements shared.SettingsRepository.
func (r *SettingsRepository) Save(ctx context.Context, s shared.EngineSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = &s
	return nil
}
