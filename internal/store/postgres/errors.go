package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/shortlinks/internal/errx"
	"github.com/sundayezeilo/shortlinks/internal/shortener"
)

const (
	shortcodeUniqueConstraint = "short_urls_shortcode_unique"

	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

func isShortcodeUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUniqueViolation &&
		pgErr.ConstraintName == shortcodeUniqueConstraint
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapError classifies driver errors. Errors that already carry a kind keep it.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errx.KindOf(err) != errx.Unknown:
		return errx.Wrap(op, err, errx.Unavailable)
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	case isShortcodeUniqueViolation(err):
		return errx.E(op, errx.Conflict, shortener.ErrDuplicateKey)
	case pgCode(err) == codeForeignKeyViolation:
		// The parent row vanished under a concurrent delete.
		return errx.E(op, errx.NotFound, shortener.ErrNotFound)
	case pgCode(err) == codeCheckViolation:
		return errx.E(op, errx.Invalid, err)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}
