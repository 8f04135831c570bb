// Package store persists per-user settings and the utterance log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxcastlabs/voxcast-core/internal/config"
)

// UserSettings holds a user's explicit preferences. Nil TTSEnabled means the
// user never toggled it; callers apply the default.
type UserSettings struct {
	TTSEnabled     *bool
	SelectedSample string
}

// Enabled resolves the tri-state toggle against a default.
func (s UserSettings) Enabled(def bool) bool {
	if s.TTSEnabled == nil {
		return def
	}
	return *s.TTSEnabled
}

// Voice resolves the selected sample against a default voice name.
func (s UserSettings) Voice(def string) string {
	if s.SelectedSample == "" {
		return def
	}
	return s.SelectedSample
}

// Utterance is one recorded speak attempt and its outcome.
type Utterance struct {
	ID        string
	TargetID  uint64
	Character string
	Label     string
	Status    string
	Detail    string
	CreatedAt time.Time
}

const (
	StatusQueued = "queued"
	StatusFailed = "failed"
)

// Store wraps the SQLite database.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id INTEGER PRIMARY KEY,
    tts_enabled INTEGER,
    selected_sample TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    target_id INTEGER NOT NULL,
    character TEXT,
    label TEXT,
    status TEXT NOT NULL,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_target_created ON utterances(target_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UserSettings loads a user's settings. A user without a row gets the zero
// value, which resolves to defaults.
func (s *Store) UserSettings(ctx context.Context, userID uint64) (UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tts_enabled, selected_sample FROM user_settings WHERE user_id = ?`, userID)

	var enabled sql.NullBool
	var sample string
	if err := row.Scan(&enabled, &sample); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserSettings{}, nil
		}
		return UserSettings{}, fmt.Errorf("load user settings: %w", err)
	}

	settings := UserSettings{SelectedSample: sample}
	if enabled.Valid {
		v := enabled.Bool
		settings.TTSEnabled = &v
	}
	return settings, nil
}

// SaveUserSettings upserts a user's settings row.
func (s *Store) SaveUserSettings(ctx context.Context, userID uint64, settings UserSettings) error {
	var enabled interface{}
	if settings.TTSEnabled != nil {
		enabled = *settings.TTSEnabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings(user_id, tts_enabled, selected_sample, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     tts_enabled=excluded.tts_enabled,
		     selected_sample=excluded.selected_sample,
		     updated_at=excluded.updated_at`,
		userID, enabled, settings.SelectedSample, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("save user settings: %w", err)
	}
	return nil
}

// RecordUtterance writes one speak attempt into the log.
func (s *Store) RecordUtterance(ctx context.Context, u Utterance) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(id, target_id, character, label, status, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TargetID, u.Character, u.Label, u.Status, u.Detail, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("record utterance: %w", err)
	}
	return nil
}

// ListUtterances retrieves up to limit entries for a target, oldest first.
func (s *Store) ListUtterances(ctx context.Context, targetID uint64, limit int) ([]Utterance, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, character, label, status, detail, created_at
		 FROM utterances WHERE target_id = ? ORDER BY created_at ASC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var created string
		if err := rows.Scan(&u.ID, &u.TargetID, &u.Character, &u.Label, &u.Status, &u.Detail, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune applies the configured retention to the utterance log.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxUtterances > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxUtterances)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
