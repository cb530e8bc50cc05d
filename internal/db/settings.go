package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chmdznr/oss-asset-sync/pkg/models"
)

// SeedIgnorePatterns inserts the system patterns into an empty table.
func (c *Catalog) SeedIgnorePatterns(ctx context.Context, names []string) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ignore_patterns`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, name := range names {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ignore_patterns (name, origin) VALUES (?, ?)`, name, models.OriginSystem); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Catalog) queryPatterns(ctx context.Context, where string, args ...any) ([]models.IgnorePattern, error) {
	rows, err := c.conn.QueryContext(ctx,
		`SELECT id, name, origin, removed FROM ignore_patterns `+where+` ORDER BY origin, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []models.IgnorePattern
	for rows.Next() {
		var p models.IgnorePattern
		if err := rows.Scan(&p.ID, &p.Name, &p.Origin, &p.Removed); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// ListIgnorePatterns returns the live patterns.
func (c *Catalog) ListIgnorePatterns(ctx context.Context) ([]models.IgnorePattern, error) {
	return c.queryPatterns(ctx, `WHERE removed = 0`)
}

// RemovedIgnorePatterns returns tombstones awaiting propagation.
func (c *Catalog) RemovedIgnorePatterns(ctx context.Context) ([]models.IgnorePattern, error) {
	return c.queryPatterns(ctx, `WHERE removed = 1`)
}

// AddIgnorePattern adds a user pattern, reviving a tombstone of the same name.
func (c *Catalog) AddIgnorePattern(ctx context.Context, name string) error {
	return c.exec(ctx, `
		INSERT INTO ignore_patterns (name, origin) VALUES (?, ?)
		ON CONFLICT (name, origin) DO UPDATE SET removed = 0
	`, name, models.OriginUser)
}

// RemoveIgnorePattern tombstones a user pattern. System patterns cannot be
// removed.
func (c *Catalog) RemoveIgnorePattern(ctx context.Context, name string) error {
	err := c.execOne(ctx, `UPDATE ignore_patterns SET removed = 1 WHERE name = ? AND origin = ? AND removed = 0`,
		name, models.OriginUser)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("user ignore pattern %q: %w", name, ErrNotFound)
	}
	return err
}

// PurgeIgnorePattern hard-deletes a tombstone once its removal was applied.
func (c *Catalog) PurgeIgnorePattern(ctx context.Context, id int64) error {
	return c.exec(ctx, `DELETE FROM ignore_patterns WHERE id = ? AND removed = 1`, id)
}

// GetCredentials returns the stored login.
func (c *Catalog) GetCredentials(ctx context.Context) (*models.Credentials, error) {
	var cr models.Credentials
	err := c.conn.QueryRowContext(ctx,
		`SELECT type, access_token, refresh_token, expiry FROM credentials WHERE id = 1`,
	).Scan(&cr.Type, &cr.AccessToken, &cr.RefreshToken, &cr.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credentials: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

// SaveCredentials replaces the stored login.
func (c *Catalog) SaveCredentials(ctx context.Context, cr *models.Credentials) error {
	return c.exec(ctx, `
		INSERT INTO credentials (id, type, access_token, refresh_token, expiry) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry
	`, cr.Type, cr.AccessToken, cr.RefreshToken, cr.Expiry)
}

// Logout forgets the login and everything that was synced under it.
func (c *Catalog) Logout(ctx context.Context) error {
	return c.write(ctx, func(ctx context.Context, tx DBTX) error {
		for _, q := range []string{
			`DELETE FROM credentials`,
			`DELETE FROM assets`,
			`DELETE FROM projects`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}
