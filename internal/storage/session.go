package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrSessionLocked = errors.New("another bot session is active")

type SessionLock struct {
	Owner       string    `json:"owner"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	HeartbeatAt time.Time `json:"heartbeatAt"`
}

// SaveBotState stores the serialized machine snapshot, replacing the previous one.
func (s *Store) SaveBotState(ctx context.Context, state json.RawMessage) error {
	now := toMillis(s.now())
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bot_state (id, data, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, string(state), now)
	if err != nil {
		return fmt.Errorf("saving bot state: %w", err)
	}
	return nil
}

func (s *Store) LoadBotState(ctx context.Context) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM bot_state WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading bot state: %w", err)
	}
	return json.RawMessage(data), nil
}

// AcquireSession claims the single automation session for owner. A lock held
// by someone else is honoured until its heartbeat is older than ttl.
func (s *Store) AcquireSession(ctx context.Context, owner string, ttl time.Duration) error {
	now := s.now()
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		current, found, err := sessionTx(ctx, tx)
		if err != nil {
			return err
		}
		if found && current.Owner != owner && now.Sub(current.HeartbeatAt) < ttl {
			return fmt.Errorf("%w: held by %s since %s", ErrSessionLocked, current.Owner, current.AcquiredAt.Format(time.RFC3339))
		}
		acquired := toMillis(now)
		if found && current.Owner == owner {
			acquired = toMillis(current.AcquiredAt)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO session_lock (id, owner, acquired_at, heartbeat_at) VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at, heartbeat_at = excluded.heartbeat_at`,
			owner, acquired, toMillis(now))
		return err
	})
}

func (s *Store) HeartbeatSession(ctx context.Context, owner string) error {
	now := toMillis(s.now())
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE session_lock SET heartbeat_at = ? WHERE id = 1 AND owner = ?", now, owner)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session lock for %s: %w", owner, ErrNotFound)
		}
		return nil
	})
}

// ReleaseSession drops the lock if owner still holds it.
func (s *Store) ReleaseSession(ctx context.Context, owner string) error {
	return s.withWrite(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM session_lock WHERE id = 1 AND owner = ?", owner)
		return err
	})
}

func (s *Store) Session(ctx context.Context) (SessionLock, bool, error) {
	return sessionTx(ctx, s.db)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sessionTx(ctx context.Context, tx queryRower) (SessionLock, bool, error) {
	var (
		owner                 string
		acquiredAt, heartbeat int64
	)
	err := tx.QueryRowContext(ctx, "SELECT owner, acquired_at, heartbeat_at FROM session_lock WHERE id = 1").
		Scan(&owner, &acquiredAt, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionLock{}, false, nil
	}
	if err != nil {
		return SessionLock{}, false, fmt.Errorf("reading session lock: %w", err)
	}
	return SessionLock{
		Owner:       owner,
		AcquiredAt:  time.UnixMilli(acquiredAt).UTC(),
		HeartbeatAt: time.UnixMilli(heartbeat).UTC(),
	}, true, nil
}
