package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/densefeed/dbopen"
)

// Schema for the sites table.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	performance INTEGER DEFAULT 0,
	debug       INTEGER DEFAULT 0,
	status      TEXT DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// LoadSites reads all active sites from the database.
func LoadSites(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, performance, debug
		FROM sites
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load sites: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var perf, debug int
		if err := rows.Scan(&p.ID, &p.URL, &perf, &debug); err != nil {
			return nil, fmt.Errorf("config: scan site: %w", err)
		}
		p.Performance = perf != 0
		p.Debug = debug != 0
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertSite inserts or replaces an active site.
func UpsertSite(ctx context.Context, db *sql.DB, p PageConfig) error {
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO sites (id, url, performance, debug, status, updated_at)
		VALUES (?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			performance = excluded.performance,
			debug = excluded.debug,
			status = 'active',
			updated_at = excluded.updated_at
	`, p.ID, p.URL, boolInt(p.Performance), boolInt(p.Debug), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert site %s: %w", p.ID, err)
	}
	return nil
}

// DisableSite marks a site inactive.
func DisableSite(ctx context.Context, db *sql.DB, id string) error {
	_, err := dbopen.Exec(ctx, db, `UPDATE sites SET status = 'disabled', updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("config: disable site %s: %w", id, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
