// Package storage is the SQLite-backed mission repository. It also keeps the
// bot's persisted state and the single-session lock.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/storage/migrations"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
	// every read-modify-write goes through writeMu so an import running next
	// to automation can't lose an update on the same post
	writeMu sync.Mutex
	now     func() time.Time
}

type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// Open opens (or creates) the repository at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectMissions = `
SELECT m.data, COALESCE(p.cleared, 0), p.cleared_at, COALESCE(p.disabled, 0), COALESCE(p.total_loot, '{}')
FROM missions m
LEFT JOIN progress p ON p.post_id = m.post_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (mission.Mission, error) {
	var (
		data      string
		cleared   bool
		clearedAt sql.NullInt64
		disabled  bool
		loot      string
	)
	if err := row.Scan(&data, &cleared, &clearedAt, &disabled, &loot); err != nil {
		return mission.Mission{}, err
	}

	var m mission.Mission
	if err := json.Unmarshal([]byte(data), &m.Record); err != nil {
		return mission.Mission{}, fmt.Errorf("decoding mission record: %w", err)
	}
	m.Progress.Cleared = cleared
	m.Progress.Disabled = disabled
	if cleared && clearedAt.Valid {
		v := clearedAt.Int64
		m.Progress.ClearedAt = &v
	}
	if loot != "" && loot != "{}" {
		if err := json.Unmarshal([]byte(loot), &m.Progress.TotalLoot); err != nil {
			return mission.Mission{}, fmt.Errorf("decoding total loot: %w", err)
		}
	}
	return m, nil
}

func (s *Store) queryMissions(ctx context.Context, where string, args ...any) ([]mission.Mission, error) {
	rows, err := s.db.QueryContext(ctx, selectMissions+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying missions: %w", err)
	}
	defer rows.Close()

	var out []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAll returns every stored mission keyed by post id.
func (s *Store) GetAll(ctx context.Context) (map[string]mission.Mission, error) {
	missions, err := s.queryMissions(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]mission.Mission, len(missions))
	for _, m := range missions {
		out[m.PostID] = m
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, postID string) (mission.Mission, error) {
	row := s.db.QueryRowContext(ctx, selectMissions+" WHERE m.post_id = ?", postID)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Mission{}, fmt.Errorf("mission %s: %w", postID, ErrNotFound)
	}
	return m, err
}

// GetFiltered returns the automation candidates for f, newest first.
func (s *Store) GetFiltered(ctx context.Context, f mission.Filters) ([]mission.Mission, error) {
	missions, err := s.queryMissions(ctx,
		"WHERE m.difficulty > 0 AND m.min_level IS NOT NULL AND m.max_level IS NOT NULL AND m.min_level >= ? AND m.max_level <= ?",
		f.MinLevel, f.MaxLevel)
	if err != nil {
		return nil, err
	}
	return mission.Select(missions, f), nil
}

// Records returns the shareable part of every mission.
func (s *Store) Records(ctx context.Context) ([]mission.Record, error) {
	missions, err := s.queryMissions(ctx, "ORDER BY m.post_id")
	if err != nil {
		return nil, err
	}
	out := make([]mission.Record, 0, len(missions))
	for _, m := range missions {
		out = append(out, m.Record)
	}
	return out, nil
}

// Shareable returns the records that pass validation, which are exactly the
// ones ImportMerge accepts. skipped counts unclassified listing records.
func (s *Store) Shareable(ctx context.Context) (records []mission.Record, skipped int, err error) {
	all, err := s.Records(ctx)
	if err != nil {
		return nil, 0, err
	}
	records = make([]mission.Record, 0, len(all))
	for _, r := range all {
		if r.Validate() != nil {
			skipped++
			continue
		}
		records = append(records, r)
	}
	return records, skipped, nil
}

// Export writes the shareable records to w and returns how many were left
// out for lacking classification.
func (s *Store) Export(ctx context.Context, w io.Writer) (skipped int, err error) {
	records, skipped, err := s.Shareable(ctx)
	if err != nil {
		return 0, err
	}
	return skipped, mission.Export(w, records)
}

func upsertRecord(ctx context.Context, tx *sql.Tx, r mission.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding mission %s: %w", r.PostID, err)
	}
	var minLevel, maxLevel sql.NullInt64
	if r.MinLevel != nil {
		minLevel = sql.NullInt64{Int64: int64(*r.MinLevel), Valid: true}
	}
	if r.MaxLevel != nil {
		maxLevel = sql.NullInt64{Int64: int64(*r.MaxLevel), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO missions (post_id, permalink, timestamp, difficulty, min_level, max_level, environment, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(post_id) DO UPDATE SET
    permalink = excluded.permalink,
    timestamp = excluded.timestamp,
    difficulty = excluded.difficulty,
    min_level = excluded.min_level,
    max_level = excluded.max_level,
    environment = excluded.environment,
    data = excluded.data`,
		r.PostID, r.Permalink, r.Timestamp, r.Difficulty, minLevel, maxLevel, r.Environment, string(data))
	if err != nil {
		return fmt.Errorf("upserting mission %s: %w", r.PostID, err)
	}
	return nil
}

func getRecordTx(ctx context.Context, tx *sql.Tx, postID string) (mission.Record, bool, error) {
	var data string
	err := tx.QueryRowContext(ctx, "SELECT data FROM missions WHERE post_id = ?", postID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return mission.Record{}, false, nil
	}
	if err != nil {
		return mission.Record{}, false, err
	}
	var r mission.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return mission.Record{}, false, fmt.Errorf("decoding mission %s: %w", postID, err)
	}
	return r, true, nil
}

// withWrite runs fn in a transaction while holding the write queue.
func (s *Store) withWrite(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Save records a sensor observation, merging it into any existing record.
func (s *Store) Save(ctx context.Context, r mission.Record) error {
	if strings.TrimSpace(r.PostID) == "" {
		return fmt.Errorf("%w: missing postId", mission.ErrInvalidRecord)
	}
	if r.Difficulty < 0 || r.Difficulty > 5 {
		return fmt.Errorf("%w: difficulty %d out of range", mission.ErrInvalidRecord, r.Difficulty)
	}
	if lo, hi, ok := r.Levels(); ok && lo > hi {
		return fmt.Errorf("%w: minLevel %d above maxLevel %d", mission.ErrInvalidRecord, lo, hi)
	}
	if r.Timestamp == 0 {
		r.Timestamp = toMillis(s.now())
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		existing, found, err := getRecordTx(ctx, tx, r.PostID)
		if err != nil {
			return err
		}
		if found {
			r = existing.Merge(r)
		}
		return upsertRecord(ctx, tx, r)
	})
}

func requireMission(ctx context.Context, tx *sql.Tx, postID string) error {
	var found int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM missions WHERE post_id = ?", postID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mission %s: %w", postID, ErrNotFound)
	}
	return err
}

func (s *Store) MarkCleared(ctx context.Context, postID string) error {
	now := toMillis(s.now())
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := requireMission(ctx, tx, postID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO progress (post_id, cleared, cleared_at) VALUES (?, 1, ?)
ON CONFLICT(post_id) DO UPDATE SET cleared = 1, cleared_at = excluded.cleared_at`, postID, now)
		return err
	})
}

// ResetCleared drops the cleared flag and timestamp together.
func (s *Store) ResetCleared(ctx context.Context, postID string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := requireMission(ctx, tx, postID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "UPDATE progress SET cleared = 0, cleared_at = NULL WHERE post_id = ?", postID)
		return err
	})
}

func (s *Store) SetDisabled(ctx context.Context, postID string, disabled bool) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := requireMission(ctx, tx, postID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO progress (post_id, disabled) VALUES (?, ?)
ON CONFLICT(post_id) DO UPDATE SET disabled = excluded.disabled`, postID, disabled)
		return err
	})
}

// AccumulateLoot adds items to the mission's running loot tally.
func (s *Store) AccumulateLoot(ctx context.Context, postID string, items map[string]int) error {
	if len(items) == 0 {
		return nil
	}
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if err := requireMission(ctx, tx, postID); err != nil {
			return err
		}
		var raw string
		err := tx.QueryRowContext(ctx, "SELECT total_loot FROM progress WHERE post_id = ?", postID).Scan(&raw)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		total := map[string]int{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &total); err != nil {
				return fmt.Errorf("decoding total loot: %w", err)
			}
		}
		for name, qty := range items {
			total[name] += qty
		}
		encoded, err := json.Marshal(total)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO progress (post_id, total_loot) VALUES (?, ?)
ON CONFLICT(post_id) DO UPDATE SET total_loot = excluded.total_loot`, postID, string(encoded))
		return err
	})
}

// ImportMerge merges shared records. Invalid records are rejected one by one;
// a record only replaces an existing one when its timestamp is strictly newer.
// Progress is never touched by an import.
func (s *Store) ImportMerge(ctx context.Context, records []mission.Record) (ImportResult, error) {
	var res ImportResult
	err := s.withWrite(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if err := r.Validate(); err != nil {
				res.Rejected++
				continue
			}
			existing, found, err := getRecordTx(ctx, tx, r.PostID)
			if err != nil {
				return err
			}
			if found && r.Timestamp <= existing.Timestamp {
				res.Skipped++
				continue
			}
			if err := upsertRecord(ctx, tx, r); err != nil {
				return err
			}
			res.Imported++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// ClearAll deletes every mission and all progress.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM progress"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM missions")
		return err
	})
}
