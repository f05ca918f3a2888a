package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conveyor-io/conveyor/internal/records"
)

// ErrEntityStoreFailed wraps unexpected database failures in entity stores.
var ErrEntityStoreFailed = errors.New("entity storage failed")

// UserStore reads and upserts user rows.
type UserStore struct {
	conn *Connection
}

// NewUserStore creates a user store over the shared connection.
func NewUserStore(conn *Connection) (*UserStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &UserStore{conn: conn}, nil
}

// List returns up to limit users with id strictly beyond the cursor, matching
// the validated filters, ordered by id.
func (s *UserStore) List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.UserRecord, error) {
	clauses, args := whereClauses("", filters, nil)
	tail, args := cursorPage("id", "", afterID, limit, clauses, args)

	query := `
		SELECT id, email, name, role, active, created_at, updated_at
		FROM users ` + tail

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing users: %w", ErrEntityStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*records.UserRecord

	for rows.Next() {
		var (
			rec   records.UserRecord
			email sql.NullString
			name  sql.NullString
			role  sql.NullString
		)

		if err := rows.Scan(&rec.ID, &email, &name, &role, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning user: %w", ErrEntityStoreFailed, err)
		}

		rec.Email = email.String
		rec.Name = name.String
		rec.Role = role.String

		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing users: %w", ErrEntityStoreFailed, err)
	}

	return out, nil
}

// Upsert applies one validated user within q. Records carrying an id merge by
// id; records carrying only an email merge by email, matched without regard
// to case. Absent fields never
// overwrite stored values. Newly created rows get a derived username and a
// random-hashed placeholder credential; existing rows keep theirs. Returns
// the row id.
func (s *UserStore) Upsert(ctx context.Context, q querier, rec *records.UserRecord) (int64, error) {
	username := deriveUsername(rec)

	placeholder, err := HashToken(uuid.NewString())
	if err != nil {
		return 0, fmt.Errorf("%w: hashing placeholder credential: %w", ErrEntityStoreFailed, err)
	}

	id, err := s.upsertOnce(ctx, q, rec, username, placeholder)
	if uniqueViolationOn(err, "users_username_key") {
		// The deterministic username is taken by another row; retry once with
		// a random suffix.
		id, err = s.upsertOnce(ctx, q, rec, username+"-"+randomSuffix(), placeholder)
	}

	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *UserStore) upsertOnce(ctx context.Context, q querier, rec *records.UserRecord, username, passwordHash string) (int64, error) {
	var (
		id  int64
		err error
	)

	if rec.ID != nil {
		query := `
			INSERT INTO users (id, email, username, name, role, active, password_hash, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), COALESCE(NULLIF($5, ''), 'user'), COALESCE($6::boolean, TRUE), $7, COALESCE($8::timestamptz, now()), now())
			ON CONFLICT (id) DO UPDATE SET
				email      = COALESCE(EXCLUDED.email, users.email),
				name       = COALESCE(EXCLUDED.name, users.name),
				role       = CASE WHEN $5 = '' THEN users.role ELSE EXCLUDED.role END,
				active     = COALESCE($6::boolean, users.active),
				updated_at = now()
			RETURNING id`

		err = q.QueryRowContext(ctx, query,
			*rec.ID, rec.Email, username, rec.Name, rec.Role, rec.Active, passwordHash, rec.CreatedAt,
		).Scan(&id)
	} else {
		query := `
			INSERT INTO users (email, username, name, role, active, password_hash, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), COALESCE(NULLIF($4, ''), 'user'), COALESCE($5::boolean, TRUE), $6, COALESCE($7::timestamptz, now()), now())
			ON CONFLICT (LOWER(email)) DO UPDATE SET
				name       = COALESCE(EXCLUDED.name, users.name),
				role       = CASE WHEN $4 = '' THEN users.role ELSE EXCLUDED.role END,
				active     = COALESCE($5::boolean, users.active),
				updated_at = now()
			RETURNING id`

		err = q.QueryRowContext(ctx, query,
			rec.Email, username, rec.Name, rec.Role, rec.Active, passwordHash, rec.CreatedAt,
		).Scan(&id)
	}

	if err != nil {
		return 0, err
	}

	return id, nil
}

// deriveUsername builds the username for a newly created user: the email local
// part when an email is present, else the kebab-cased name with a random
// suffix. Only inserts use it; updates never touch the stored username.
func deriveUsername(rec *records.UserRecord) string {
	if rec.Email != "" {
		if at := strings.IndexByte(rec.Email, '@'); at > 0 {
			return kebabCase(rec.Email[:at])
		}
	}

	if rec.Name != "" {
		return kebabCase(rec.Name) + "-" + randomSuffix()
	}

	return "user-" + randomSuffix()
}

func kebabCase(s string) string {
	var b strings.Builder

	lastDash := true

	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
			}

			lastDash = true
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}

func randomSuffix() string {
	return uuid.NewString()[:8]
}

// UserExists reports whether a user row with the id exists.
func (s *UserStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var found bool

	err := s.conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("%w: checking user: %w", ErrEntityStoreFailed, err)
	}

	return found, nil
}

// UserIDByEmail returns the owning user id for an email, case-insensitively.
func (s *UserStore) UserIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	var id int64

	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE LOWER(email) = LOWER($1)`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("%w: resolving email: %w", ErrEntityStoreFailed, err)
	}

	return id, true, nil
}
