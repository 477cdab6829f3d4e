package chain_store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ptrscan/chain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scans (
	id           TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL,
	target       INTEGER NOT NULL,
	pointer_size INTEGER NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chains (
	scan_id      TEXT NOT NULL REFERENCES scans(id),
	module       TEXT NOT NULL,
	module_start INTEGER NOT NULL,
	base_offset  INTEGER NOT NULL,
	depth        INTEGER NOT NULL,
	offsets      TEXT NOT NULL,
	chain        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chains_by_module ON chains(module, base_offset);
`

// ExportSQLite appends one scan and its chains to the SQLite database at
// path, creating the tables on first use. It returns the scan's row ID.
func ExportSQLite(ctx context.Context, path string, hdr ChainHeader, chains []chain.Chain) (string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer db.Close()

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=10000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrIO, pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return "", fmt.Errorf("%w: schema: %w", ErrIO, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %w", ErrIO, err)
	}
	defer tx.Rollback()

	scanID := uuid.Must(uuid.NewV7()).String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scans (id, snapshot_id, target, pointer_size, created_at) VALUES (?, ?, ?, ?, ?)`,
		scanID, hdr.SnapshotID.String(), int64(hdr.Target), hdr.PointerSize, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("%w: insert scan: %w", ErrIO, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chains (scan_id, module, module_start, base_offset, depth, offsets, chain) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("%w: prepare: %w", ErrIO, err)
	}
	defer stmt.Close()

	for _, c := range chains {
		offsets := make([]string, len(c.Offsets))
		for i, off := range c.Offsets {
			offsets[i] = fmt.Sprintf("%d", off)
		}
		_, err := stmt.ExecContext(ctx, scanID, c.Module.Name, int64(c.Module.Start), int64(c.BaseOffset),
			c.Hops(), strings.Join(offsets, ","), c.String())
		if err != nil {
			return "", fmt.Errorf("%w: insert chain: %w", ErrIO, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit: %w", ErrIO, err)
	}
	log.Infoln("exported", len(chains), "chains to", path)
	return scanID, nil
}
