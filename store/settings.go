package store

import (
	"context"
	"fmt"
)

// AllSettings returns every key/value pair from app_settings.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM app_settings")
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	settings := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// UpsertSettings writes the given pairs, inserting or overwriting each key.
func (s *Store) UpsertSettings(ctx context.Context, settings map[string]string) error {
	for key, value := range settings {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO app_settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			key, value)
		if err != nil {
			return fmt.Errorf("failed to save setting %q: %w", key, err)
		}
	}
	return nil
}

// SettingValues returns the values for the requested keys; missing keys are
// absent from the map. Satisfies llms.SettingsReader.
func (s *Store) SettingValues(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT key, value FROM app_settings WHERE key = ANY($1)", keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}
