package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/battle64/points-engine/internal/domain/shared"
)

// SettingsRepository implements shared.SettingsRepository on a single-row table.
type SettingsRepository struct {
	conn *Connection
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(conn *Connection) *SettingsRepository {
	return &SettingsRepository{conn: conn}
}

// Load returns the stored settings or shared.ErrSettingsNotFound.
func (r *SettingsRepository) Load(ctx context.Context) (shared.EngineSettings, error) {
	var data []byte
	err := r.conn.QueryRow(ctx, `SELECT data FROM engine_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if IsNoRows(err) {
			return shared.EngineSettings{}, shared.ErrSettingsNotFound
		}
		return shared.EngineSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var s shared.EngineSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return shared.EngineSettings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

// Save validates and replaces the stored settings.
func (r *SettingsRepository) Save(ctx context.Context, s shared.EngineSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO engine_settings (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
