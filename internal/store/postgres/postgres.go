// Package postgres is the shortener.Store used in production, on pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sundayezeilo/shortlinks/internal/clock"
	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/idgen"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

//go:embed schema.sql
var schemaSQL string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

type Store struct {
	pool  *pgxpool.Pool
	idGen idgen.Generator
}

// StoreConfig holds optional dependencies for the store.
type StoreConfig struct {
	IDGenerator idgen.Generator // default: UUIDv7
}

// New returns a Store on pool. The caller owns the pool.
func New(pool *pgxpool.Pool, config *StoreConfig) *Store {
	if config == nil {
		config = &StoreConfig{}
	}
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7(idgen.WithRetries(1))
	}
	return &Store{pool: pool, idGen: config.IDGenerator}
}

// Migrate creates tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "store.postgres.Migrate"

	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errx.E(op, errx.Unavailable, fmt.Errorf("apply schema: %w", err))
	}
	return nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, rec shortener.Record) (shortener.Record, error) {
	const op = "store.postgres.CreateIfAbsent"

	id, err := idgen.Ensure(s.idGen, rec.ID)
	if err != nil {
		return shortener.Record{}, errx.E(op, errx.Internal, err)
	}
	rec.ID = id

	const q = `
INSERT INTO short_urls (id, shortcode, original_url, created_at, expires_at, is_active)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q,
		rec.ID, rec.Shortcode, rec.OriginalURL, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(), rec.IsActive,
	); err != nil {
		return shortener.Record{}, mapError(op, err)
	}

	rec.Clicks = nil
	return rec, nil
}

func (s *Store) FindByCode(ctx context.Context, shortcode string) (shortener.Record, error) {
	const op = "store.postgres.FindByCode"

	var rec shortener.Record
	err := pgx.BeginTxFunc(ctx, s.pool, snapshotTx, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, `
SELECT id, shortcode, original_url, created_at, expires_at, is_active
FROM short_urls
WHERE shortcode = $1`, shortcode))
		if err != nil {
			return err
		}

		byID, err := loadClicks(ctx, tx, `WHERE short_url_id = $1`, rec.ID)
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

// AppendClick is a single INSERT ... SELECT, so it either lands completely or
// not at all.
func (s *Store) AppendClick(ctx context.Context, shortcode string, click shortener.ClickEvent) error {
	const op = "store.postgres.AppendClick"

	const q = `
INSERT INTO clicks (short_url_id, clicked_at, referrer, ip_address, user_agent, country, region, city)
SELECT id, $2, $3, $4, $5, $6, $7, $8
FROM short_urls
WHERE shortcode = $1`
	tag, err := s.pool.Exec(ctx, q, shortcode,
		click.Timestamp.UTC(), click.Referrer, click.IPAddress, click.UserAgent,
		click.Location.Country, click.Location.Region, click.Location.City,
	)
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	}
	return nil
}

// DeleteIfExpired locks the row, checks expiry and deletes in one transaction.
// Clicks go with it through ON DELETE CASCADE.
func (s *Store) DeleteIfExpired(ctx context.Context, shortcode string, now time.Time) error {
	const op = "store.postgres.DeleteIfExpired"

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			id        uuid.UUID
			expiresAt time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT id, expires_at FROM short_urls WHERE shortcode = $1 FOR UPDATE`, shortcode,
		).Scan(&id, &expiresAt)
		if err != nil {
			return err
		}

		if !clock.IsExpired(now, expiresAt) {
			return errx.E(op, errx.Conflict, shortener.ErrStillActive)
		}

		_, err = tx.Exec(ctx, `DELETE FROM short_urls WHERE id = $1`, id)
		return err
	})
	return mapError(op, err)
}

func (s *Store) ListAll(ctx context.Context) ([]shortener.Record, error) {
	const op = "store.postgres.ListAll"

	var out []shortener.Record
	err := pgx.BeginTxFunc(ctx, s.pool, snapshotTx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
SELECT id, shortcode, original_url, created_at, expires_at, is_active
FROM short_urls
ORDER BY created_at DESC, shortcode ASC`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (shortener.Record, error) {
			return scanRecord(row)
		})
		if err != nil {
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

func scanRecord(row pgx.Row) (shortener.Record, error) {
	var rec shortener.Record
	if err := row.Scan(&rec.ID, &rec.Shortcode, &rec.OriginalURL, &rec.CreatedAt, &rec.ExpiresAt, &rec.IsActive); err != nil {
		return shortener.Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return rec, nil
}

// loadClicks returns clicks grouped by record id in insertion order.
func loadClicks(ctx context.Context, q dbtx, where string, args ...any) (map[uuid.UUID][]shortener.ClickEvent, error) {
	rows, err := q.Query(ctx, `
SELECT short_url_id, clicked_at, referrer, ip_address, user_agent, country, region, city
FROM clicks `+where+`
ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID][]shortener.ClickEvent)
	for rows.Next() {
		var (
			id uuid.UUID
			c  shortener.ClickEvent
		)
		if err := rows.Scan(&id, &c.Timestamp, &c.Referrer, &c.IPAddress, &c.UserAgent,
			&c.Location.Country, &c.Location.Region, &c.Location.City); err != nil {
			return nil, err
		}
		c.Timestamp = c.Timestamp.UTC()
		byID[id] = append(byID[id], c)
	}
	return byID, rows.Err()
}

var (
	_ shortener.Store = (*Store)(nil)
	_ dbtx            = (*pgxpool.Pool)(nil)
	_ dbtx            = (pgx.Tx)(nil)
)
