// Package store persists tracked podcasts and their followers in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"podnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListPodcasts(ctx context.Context) ([]Podcast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_url, title, title_slug, link, cover_url, description,
		        last_check_at, last_check_ok, latest_episode_at
		 FROM podcasts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Podcast
	for rows.Next() {
		var (
			p        Podcast
			checkMS  sql.NullInt64
			checkOK  int64
			latestMS sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.FeedURL, &p.Title, &p.TitleSlug, &p.Link,
			&p.CoverURL, &p.Description, &checkMS, &checkOK, &latestMS); err != nil {
			return nil, err
		}
		if checkMS.Valid {
			p.LastCheckAt = time.UnixMilli(checkMS.Int64).UTC()
		}
		p.LastCheckOK = checkOK != 0
		if latestMS.Valid {
			t := time.UnixMilli(latestMS.Int64).UTC()
			p.LatestEpisodeAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Followers(ctx context.Context, podcastID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM followers WHERE podcast_id = ? ORDER BY user_id`, podcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveCheck(ctx context.Context, podcastID int64, at time.Time, ok bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE podcasts SET last_check_at = ?, last_check_ok = ? WHERE id = ?`,
		at.UnixMilli(), boolInt(ok), podcastID)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *sqliteStore) SaveMeta(ctx context.Context, podcastID int64, patch MetaPatch) error {
	if patch.IsZero() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("title", patch.Title)
	add("title_slug", patch.TitleSlug)
	add("link", patch.Link)
	add("cover_url", patch.CoverURL)
	add("description", patch.Description)

	args = append(args, podcastID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE podcasts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *sqliteStore) SaveLatestEpisodeAt(ctx context.Context, podcastID int64, at time.Time) error {
	// The marker only moves forward; a concurrent writer with a newer
	// episode wins.
	res, err := s.db.ExecContext(ctx,
		`UPDATE podcasts SET latest_episode_at = ?
		 WHERE id = ? AND (latest_episode_at IS NULL OR latest_episode_at < ?)`,
		at.UnixMilli(), podcastID, at.UnixMilli())
	if err != nil {
		return err
	}
	// Zero rows here can also mean "marker already newer", which is fine.
	_ = res
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
