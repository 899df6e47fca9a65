package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"slotwise/libs/db"
	"slotwise/services/availability-service/internal/outbox"
	"slotwise/services/availability-service/internal/schedule"
)

// ErrVersionConflict is returned by SwapConfig when the stored configuration
// changed between read and write. Callers retry the read-merge-write loop.
var ErrVersionConflict = errors.New("availability config version conflict")

type Profile struct {
	ID          string
	DisplayName string
	Timezone    string
	CreatedAt   time.Time
}

// ProfileRepository persists profiles and their availability configuration.
// The configuration is stored as a single JSONB document per profile with a
// version counter for optimistic concurrency; mutations are applied
// atomically per profile and write a change event to the outbox in the same
// transaction.
type ProfileRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewProfileRepository(pool *db.Pool, outboxRepo *outbox.Repository) *ProfileRepository {
	return &ProfileRepository{pool: pool, outbox: outboxRepo}
}

// CreateProfile inserts a profile seeded with the default (not bookable)
// configuration at version 1.
func (r *ProfileRepository) CreateProfile(ctx context.Context, displayName, timezone string) (Profile, error) {
	cfgJSON, err := json.Marshal(schedule.DefaultConfig())
	if err != nil {
		return Profile{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Profile{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	var p Profile
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (id, display_name, timezone)
		VALUES ($1, $2, $3)
		RETURNING id::text, display_name, timezone, created_at
	`, id, displayName, timezone).Scan(&p.ID, &p.DisplayName, &p.Timezone, &p.CreatedAt)
	if err != nil {
		return Profile{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO availability_configs (profile_id, config, version)
		VALUES ($1, $2, 1)
	`, id, cfgJSON); err != nil {
		return Profile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (r *ProfileRepository) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, display_name, timezone, created_at
		FROM profiles
		WHERE id = $1
	`, profileID).Scan(&p.ID, &p.DisplayName, &p.Timezone, &p.CreatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// DeleteProfile removes a profile with its configuration (ON DELETE CASCADE).
func (r *ProfileRepository) DeleteProfile(ctx context.Context, profileID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, profileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetConfig loads the availability configuration and its current version.
func (r *ProfileRepository) GetConfig(ctx context.Context, profileID string) (schedule.Config, int64, error) {
	var raw []byte
	var version int64
	err := r.pool.QueryRow(ctx, `
		SELECT config, version
		FROM availability_configs
		WHERE profile_id = $1
	`, profileID).Scan(&raw, &version)
	if err != nil {
		return schedule.Config{}, 0, err
	}

	var cfg schedule.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return schedule.Config{}, 0, fmt.Errorf("corrupt availability config for profile %s: %w", profileID, err)
	}
	return cfg, version, nil
}

// ReplaceConfig overwrites the configuration unconditionally and bumps the
// version. evt, when non-nil, is written to the outbox in the same
// transaction.
func (r *ProfileRepository) ReplaceConfig(ctx context.Context, profileID string, cfg schedule.Config, evt *outbox.Event) (int64, error) {
	return r.writeConfig(ctx, profileID, cfg, nil, evt)
}

// SwapConfig overwrites the configuration only if the stored version still
// equals expectedVersion, returning ErrVersionConflict otherwise. This is the
// compare-and-swap leg of the read-merge-write patch path.
func (r *ProfileRepository) SwapConfig(ctx context.Context, profileID string, cfg schedule.Config, expectedVersion int64, evt *outbox.Event) (int64, error) {
	return r.writeConfig(ctx, profileID, cfg, &expectedVersion, evt)
}

func (r *ProfileRepository) writeConfig(ctx context.Context, profileID string, cfg schedule.Config, expectedVersion *int64, evt *outbox.Event) (int64, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newVersion int64
	if expectedVersion == nil {
		err = tx.QueryRow(ctx, `
			UPDATE availability_configs
			SET config = $2, version = version + 1, updated_at = now()
			WHERE profile_id = $1
			RETURNING version
		`, profileID, cfgJSON).Scan(&newVersion)
	} else {
		err = tx.QueryRow(ctx, `
			UPDATE availability_configs
			SET config = $2, version = version + 1, updated_at = now()
			WHERE profile_id = $1 AND version = $3
			RETURNING version
		`, profileID, cfgJSON, *expectedVersion).Scan(&newVersion)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion == nil {
			return 0, pgx.ErrNoRows
		}
		// Distinguish "gone" from "raced": the patch loop retries only on
		// version conflicts.
		var exists bool
		if checkErr := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM availability_configs WHERE profile_id = $1)
		`, profileID).Scan(&exists); checkErr != nil {
			return 0, checkErr
		}
		if exists {
			return 0, ErrVersionConflict
		}
		return 0, pgx.ErrNoRows
	}
	if err != nil {
		return 0, err
	}

	if evt != nil {
		if err := r.outbox.Insert(ctx, tx, *evt); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newVersion, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
