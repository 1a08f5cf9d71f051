package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subsync/internal/cache"
	"github.com/MimeLyc/subsync/internal/subtitle"
	"golang.org/x/text/language"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Ping verifies the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store is not open")
	}
	return s.db.PingContext(ctx)
}

type subtitlePayload struct {
	Segments []subtitle.Segment `json:"segments"`
}

func (s *SQLiteStore) PutEntry(ctx context.Context, entry cache.Entry) error {
	payload, err := json.Marshal(subtitlePayload{Segments: entry.Segments})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO subtitle_cache (
			video_id, source, language, payload_json, cached_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			source=excluded.source,
			language=excluded.language,
			payload_json=excluded.payload_json,
			cached_at=excluded.cached_at,
			expires_at=excluded.expires_at`,
		entry.VideoID,
		string(entry.Source),
		entry.Language.String(),
		string(payload),
		entry.CachedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) GetEntry(ctx context.Context, videoID string) (cache.Entry, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT video_id, source, language, payload_json, cached_at, expires_at
		 FROM subtitle_cache
		 WHERE video_id = ?`,
		videoID,
	)

	var (
		ret         cache.Entry
		source      string
		lang        string
		payloadJSON string
		cachedAt    int64
		expiresAt   int64
	)
	if err := row.Scan(&ret.VideoID, &source, &lang, &payloadJSON, &cachedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, err
	}

	var payload subtitlePayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cached segments for %s: %w", videoID, err)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}

	ret.Source = subtitle.Source(source)
	ret.Language = tag
	ret.Segments = payload.Segments
	ret.CachedAt = time.UnixMilli(cachedAt).UTC()
	ret.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return ret, true, nil
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, videoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subtitle_cache WHERE video_id = ?`, videoID)
	return err
}

func (s *SQLiteStore) DeleteAllEntries(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subtitle_cache`)
	return err
}

// DeleteExpiredEntries removes subtitle_cache rows whose expires_at is at or before now.
func (s *SQLiteStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subtitle_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountEntries(ctx context.Context, now time.Time) (int, int, error) {
	var total, expired int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM subtitle_cache`,
		now.UnixMilli(),
	).Scan(&total, &expired)
	if err != nil {
		return 0, 0, err
	}
	return total, expired, nil
}

func (s *SQLiteStore) MarkedSegments(ctx context.Context, videoID string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT segment_id FROM highlights WHERE video_id = ? ORDER BY created_at ASC, segment_id ASC`,
		videoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ret = append(ret, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) MarkSegment(ctx context.Context, videoID, segmentID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO highlights (video_id, segment_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(video_id, segment_id) DO NOTHING`,
		videoID,
		segmentID,
		time.Now().UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) UnmarkSegment(ctx context.Context, videoID, segmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE video_id = ? AND segment_id = ?`, videoID, segmentID)
	return err
}

func (s *SQLiteStore) ClearMarks(ctx context.Context, videoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM highlights WHERE video_id = ?`, videoID)
	return err
}
