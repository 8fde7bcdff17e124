// Package database provides the sqlite page view log
package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

// ViewLog records renders of the particle page
type ViewLog struct {
	db   *sql.DB
	salt []byte
}

// View is one render of the particle page
type View struct {
	ClientIP string
	Speed    int
	Sector   string
	Count    int
	At       time.Time
}

// Totals summarises the view log
type Totals struct {
	Views    int64            `json:"views"`
	Clients  int64            `json:"clients"`
	BySector map[string]int64 `json:"by_sector"`
}

// OpenViewLog opens (and creates if needed) the view log at dbPath
func OpenViewLog(dbPath string) (*ViewLog, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create view log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open view log database: %w", err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to generate client salt: %w", err)
	}

	v := &ViewLog{db: db, salt: salt}
	if err := v.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Printf("[VIEWLOG]: opened %s", dbPath)
	return v, nil
}

const query_viewLog_initSchema = `
CREATE TABLE IF NOT EXISTS views (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client TEXT NOT NULL,
	speed INTEGER NOT NULL,
	sector TEXT NOT NULL DEFAULT '',
	count INTEGER NOT NULL,
	viewed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_views_viewed_at ON views(viewed_at);
CREATE INDEX IF NOT EXISTS idx_views_sector ON views(sector);
`

func (v *ViewLog) initSchema(ctx context.Context) error {
	_, err := retryableExec(ctx, v.db, query_viewLog_initSchema)
	return err
}

// clientID pseudonymises a client address. Salted per process, so ids
// are only stable for the lifetime of the server.
func (v *ViewLog) clientID(addr string) string {
	h, err := blake2b.New256(v.salt)
	if err != nil {
		// only fails for keys over 64 bytes
		panic(err)
	}
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

const query_RecordView = `
INSERT INTO views (client, speed, sector, count, viewed_at)
VALUES (?, ?, ?, ?, ?)
`

// Record stores one page view
func (v *ViewLog) Record(ctx context.Context, view View) error {
	at := view.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := retryableExec(ctx, v.db, query_RecordView,
		v.clientID(view.ClientIP), view.Speed, view.Sector, view.Count, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	return nil
}

const query_TotalViews = `SELECT COUNT(*), COUNT(DISTINCT client) FROM views`

const query_ViewsBySector = `
SELECT sector, COUNT(*) FROM views
WHERE sector != ''
GROUP BY sector
ORDER BY sector
`

// Totals returns view counts
func (v *ViewLog) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{BySector: make(map[string]int64)}

	if err := retryableQueryRowScan(ctx, v.db, query_TotalViews, nil, &t.Views, &t.Clients); err != nil {
		return nil, fmt.Errorf("failed to count views: %w", err)
	}

	rows, err := retryableQuery(ctx, v.db, query_ViewsBySector)
	if err != nil {
		return nil, fmt.Errorf("failed to count views by sector: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sector string
		var n int64
		if err := rows.Scan(&sector, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sector row: %w", err)
		}
		t.BySector[sector] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sector rows: %w", err)
	}
	return t, nil
}

// Close closes the database
func (v *ViewLog) Close() error {
	if v == nil || v.db == nil {
		return nil
	}
	return v.db.Close()
}
