package db

import (
	"context"
	"fmt"

	"tablebook/internal/config"
)

// SyncBusinessesFromConfig applies businesses.yaml to the database.
// Existing businesses keep their flags and any slots staff already saved.
func (db *DB) SyncBusinessesFromConfig(ctx context.Context, cfg *config.BusinessesConfig) error {
	if cfg == nil {
		return fmt.Errorf("businesses config is nil")
	}

	configured := make(map[string]bool, len(cfg.Businesses))
	for i := range cfg.Businesses {
		b := &cfg.Businesses[i]
		if err := db.UpsertBusiness(ctx, b); err != nil {
			return err
		}
		configured[b.ID] = true
	}

	// Businesses dropped from the file keep their data and stay bookable.
	stored, err := db.ListBusinesses(ctx)
	if err != nil {
		return fmt.Errorf("list businesses: %w", err)
	}
	for _, b := range stored {
		if !configured[b.ID] {
			db.logger.Warn().Str("business_id", b.ID).Str("name", b.Name).Msg("Business is no longer in businesses config")
		}
	}

	db.logger.Info().Int("businesses", len(cfg.Businesses)).Int("stored", len(stored)).Msg("Businesses synced from config")
	return nil
}
