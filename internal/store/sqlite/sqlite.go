// Package sqlite is a single-file shortener.Store on the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/idgen"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

//go:embed schema.sql
var schemaSQL string

// Store implements shortener.Store on SQLite. A single connection serializes
// all statements, which is what makes check-then-write sequences atomic.
type Store struct {
	db    *sql.DB
	idGen idgen.Generator
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	const op = "store.sqlite.Open"

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("apply schema: %w", err))
	}

	return &Store{db: db, idGen: idgen.NewV7()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateIfAbsent(ctx context.Context, rec shortener.Record) (shortener.Record, error) {
	const op = "store.sqlite.CreateIfAbsent"

	id, err := idgen.Ensure(s.idGen, rec.ID)
	if err != nil {
		return shortener.Record{}, errx.E(op, errx.Internal, err)
	}
	rec.ID = id

	const q = `
INSERT INTO short_urls (id, shortcode, original_url, created_at, expires_at, is_active)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (shortcode) DO NOTHING;`
	res, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.Shortcode, rec.OriginalURL,
		toUnix(rec.CreatedAt), toUnix(rec.ExpiresAt), rec.IsActive,
	)
	if err != nil {
		return shortener.Record{}, errx.E(op, errx.Unavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return shortener.Record{}, errx.E(op, errx.Unavailable, err)
	}
	if n == 0 {
		return shortener.Record{}, errx.E(op, errx.Conflict, shortener.ErrDuplicateKey)
	}

	rec.Clicks = nil
	return rec, nil
}

func (s *Store) FindByCode(ctx context.Context, shortcode string) (shortener.Record, error) {
	const op = "store.sqlite.FindByCode"

	var rec shortener.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRowContext(ctx, `
SELECT id, shortcode, original_url, created_at, expires_at, is_active
FROM short_urls
WHERE shortcode = ?;`, shortcode))
		if err != nil {
			return err
		}

		byID, err := loadClicks(ctx, tx, `WHERE short_url_id = ?`, rec.ID)
		if err != nil {
			return err
		}
		rec.Clicks = byID[rec.ID]
		return nil
	})
	if err != nil {
		return shortener.Record{}, mapError(op, err)
	}
	return rec, nil
}

// AppendClick inserts the click in one statement keyed by shortcode, so a
// concurrent delete either happens before (no rows) or after (cascade).
func (s *Store) AppendClick(ctx context.Context, shortcode string, click shortener.ClickEvent) error {
	const op = "store.sqlite.AppendClick"

	const q = `
INSERT INTO clicks (short_url_id, clicked_at, referrer, ip_address, user_agent, country, region, city)
SELECT id, ?, ?, ?, ?, ?, ?, ?
FROM short_urls
WHERE shortcode = ?;`
	res, err := s.db.ExecContext(ctx, q,
		toUnix(click.Timestamp), click.Referrer, click.IPAddress, click.UserAgent,
		click.Location.Country, click.Location.Region, click.Location.City,
		shortcode,
	)
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if n == 0 {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteIfExpired(ctx context.Context, shortcode string, now time.Time) error {
	const op = "store.sqlite.DeleteIfExpired"

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			id        uuid.UUID
			expiresAt int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, expires_at FROM short_urls WHERE shortcode = ?;`, shortcode,
		).Scan(&id, &expiresAt)
		if err != nil {
			return err
		}

		if !clock.IsExpired(now, fromUnix(expiresAt)) {
			return errx.E(op, errx.Conflict, shortener.ErrStillActive)
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM short_urls WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return mapError(op, err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]shortener.Record, error) {
	const op = "store.sqlite.ListAll"

	var out []shortener.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, shortcode, original_url, created_at, expires_at, is_active
FROM short_urls
ORDER BY created_at DESC, shortcode ASC;`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = []shortener.Record{}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		// Close before issuing the next query on the same connection.
		if err := rows.Close(); err != nil {
			return err
		}

		byID, err := loadClicks(ctx, tx, "")
		if err != nil {
			return err
		}
		for i := range out {
			out[i].Clicks = byID[out[i].ID]
		}
		return nil
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (shortener.Record, error) {
	var (
		rec                  shortener.Record
		createdAt, expiresAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Shortcode, &rec.OriginalURL, &createdAt, &expiresAt, &rec.IsActive); err != nil {
		return shortener.Record{}, err
	}
	rec.CreatedAt = fromUnix(createdAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	return rec, nil
}

// loadClicks returns clicks grouped by record id in insertion order.
func loadClicks(ctx context.Context, tx *sql.Tx, where string, args ...any) (map[uuid.UUID][]shortener.ClickEvent, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT short_url_id, clicked_at, referrer, ip_address, user_agent, country, region, city
FROM clicks `+where+`
ORDER BY id ASC;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID][]shortener.ClickEvent)
	for rows.Next() {
		var (
			id uuid.UUID
			ts int64
			c  shortener.ClickEvent
		)
		if err := rows.Scan(&id, &ts, &c.Referrer, &c.IPAddress, &c.UserAgent,
			&c.Location.Country, &c.Location.Region, &c.Location.City); err != nil {
			return nil, err
		}
		c.Timestamp = fromUnix(ts)
		byID[id] = append(byID[id], c)
	}
	return byID, rows.Err()
}

func mapError(op string, err error) error {
	switch {
	case errx.KindOf(err) != errx.Unknown:
		return errx.Wrap(op, err, errx.Unavailable)
	case errors.Is(err, sql.ErrNoRows):
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

var _ shortener.Store = (*Store)(nil)
