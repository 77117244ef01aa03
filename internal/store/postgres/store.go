package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/models"
	"github.com/Ca3de/CRET-Scan/internal/store"
	"github.com/Ca3de/CRET-Scan/internal/timeutil"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = "id, associate_id, start_time, end_time, hours_used, created_by, override_warning, override_reason"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindAssociate resolves a scanned identifier against both badge ids and
// logins. One associate's badge colliding with another's login is refused
// as ambiguous rather than resolved to an arbitrary winner.
func (s *Store) FindAssociate(ctx context.Context, identifier string) (models.Associate, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, badge_id, login, name
		FROM associates
		WHERE badge_id = $1 OR login = $1
		LIMIT 2
	`, identifier)
	if err != nil {
		return models.Associate{}, false, err
	}
	defer rows.Close()

	var matches []models.Associate
	for rows.Next() {
		var associate models.Associate
		var nameNull sql.NullString
		if err := rows.Scan(&associate.ID, &associate.BadgeID, &associate.Login, &nameNull); err != nil {
			return models.Associate{}, false, err
		}
		if nameNull.Valid {
			associate.Name = nameNull.String
		}
		matches = append(matches, associate)
	}
	if err := rows.Err(); err != nil {
		return models.Associate{}, false, err
	}
	switch len(matches) {
	case 0:
		return models.Associate{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		return models.Associate{}, false, store.ErrAmbiguousIdentifier
	}
}

func (s *Store) CreateAssociate(ctx context.Context, input store.CreateAssociateInput) (models.Associate, error) {
	associate := models.Associate{
		ID:      uuid.NewString(),
		BadgeID: input.BadgeID,
		Login:   input.Login,
		Name:    input.Name,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO associates (id, badge_id, login, name)
		VALUES ($1, $2, $3, $4)
	`, associate.ID, associate.BadgeID, associate.Login, nullIfEmpty(associate.Name))
	if err != nil {
		return models.Associate{}, err
	}
	return associate, nil
}

func (s *Store) UpdateAssociateName(ctx context.Context, associateID, name string) (models.Associate, error) {
	var associate models.Associate
	var nameNull sql.NullString
	row := s.pool.QueryRow(ctx, `
		UPDATE associates
		SET name = $2
		WHERE id = $1
		RETURNING id, badge_id, login, name
	`, associateID, name)
	if err := row.Scan(&associate.ID, &associate.BadgeID, &associate.Login, &nameNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Associate{}, store.ErrAssociateNotFound
		}
		return models.Associate{}, err
	}
	if nameNull.Valid {
		associate.Name = nameNull.String
	}
	return associate, nil
}

func (s *Store) ListAssociates(ctx context.Context) ([]models.Associate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, badge_id, login, name
		FROM associates
		ORDER BY login ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var associates []models.Associate
	for rows.Next() {
		var associate models.Associate
		var nameNull sql.NullString
		if err := rows.Scan(&associate.ID, &associate.BadgeID, &associate.Login, &nameNull); err != nil {
			return nil, err
		}
		if nameNull.Valid {
			associate.Name = nameNull.String
		}
		associates = append(associates, associate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return associates, nil
}

func (s *Store) BulkUpsertAssociates(ctx context.Context, upserts []store.AssociateUpsert) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	count := 0
	for _, row := range upserts {
		if row.BadgeID == "" {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO associates (id, badge_id, login, name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (badge_id) DO UPDATE
			SET login = EXCLUDED.login, name = EXCLUDED.name
		`, uuid.NewString(), row.BadgeID, row.Login, nullIfEmpty(row.Name))
		if err != nil {
			return 0, err
		}
		count++
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) FindOpenSession(ctx context.Context, associateID string) (models.CretSession, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM cret_sessions
		WHERE associate_id = $1 AND end_time IS NULL
		ORDER BY start_time DESC
		LIMIT 1
	`, associateID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CretSession{}, false, nil
		}
		return models.CretSession{}, false, err
	}
	return session, true, nil
}

// CreateSession inserts a new open session unless the associate already has
// one. The guarded insert plus the partial unique index on open rows makes
// the at-most-one-open invariant hold under concurrent scans.
func (s *Store) CreateSession(ctx context.Context, input store.CreateSessionInput) (models.CretSession, error) {
	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO cret_sessions (id, associate_id, start_time, created_by)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM cret_sessions WHERE associate_id = $2 AND end_time IS NULL
		)
		RETURNING `+sessionColumns+`
	`, uuid.NewString(), input.AssociateID, startTime, input.CreatedBy)
	session, err := scanSession(row)
	if err != nil {
		// Two concurrent starts can both pass the NOT EXISTS check; the
		// partial unique index then rejects the loser with a violation.
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return models.CretSession{}, store.ErrActiveSessionExists
		}
		return models.CretSession{}, err
	}
	return session, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CloseSession sets the end time and derived hours on an open session.
// Closing a session that is already closed reports ErrNoActiveSession, so
// concurrent closes degrade to a no-op for the loser.
func (s *Store) CloseSession(ctx context.Context, sessionID string, endTime time.Time) (models.CretSession, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cret_sessions
		SET end_time = $2,
			hours_used = EXTRACT(EPOCH FROM ($2::timestamptz - start_time)) / 3600.0
		WHERE id = $1 AND end_time IS NULL AND start_time <= $2
		RETURNING `+sessionColumns+`
	`, sessionID, endTime)
	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.CretSession{}, err
	}

	existing, found, lookupErr := s.getSession(ctx, sessionID)
	if lookupErr != nil {
		return models.CretSession{}, lookupErr
	}
	if !found {
		return models.CretSession{}, store.ErrSessionNotFound
	}
	if existing.Open() {
		return models.CretSession{}, store.ErrInvalidRange
	}
	return models.CretSession{}, store.ErrNoActiveSession
}

// SetOverride records the warning override on a still-open session. If the
// session closed in the meantime the write is refused with
// ErrNoActiveSession and the caller decides whether that matters.
func (s *Store) SetOverride(ctx context.Context, sessionID, reason string) (models.CretSession, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cret_sessions
		SET override_warning = TRUE, override_reason = $2
		WHERE id = $1 AND end_time IS NULL
		RETURNING `+sessionColumns+`
	`, sessionID, reason)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CretSession{}, store.ErrNoActiveSession
		}
		return models.CretSession{}, err
	}
	return session, nil
}

func (s *Store) SumHoursInWindow(ctx context.Context, associateID string, from, to time.Time) (float64, error) {
	var total float64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(hours_used), 0)
		FROM cret_sessions
		WHERE associate_id = $1
			AND hours_used IS NOT NULL
			AND start_time >= $2 AND start_time < $3
	`, associateID, from, to)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountClosedSessionsSince(ctx context.Context, associateID string, since time.Time) (store.DayUsage, error) {
	var usage store.DayUsage
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hours_used), 0)
		FROM cret_sessions
		WHERE associate_id = $1
			AND end_time IS NOT NULL
			AND start_time >= $2
	`, associateID, since)
	if err := row.Scan(&usage.Count, &usage.TotalHours); err != nil {
		return store.DayUsage{}, err
	}
	return usage, nil
}

func (s *Store) ListOpenSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.CretSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM cret_sessions
		WHERE end_time IS NULL AND start_time < $1
		ORDER BY start_time ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]store.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.associate_id, s.start_time, s.end_time, s.hours_used,
			s.created_by, s.override_warning, s.override_reason,
			a.badge_id, a.login, a.name
		FROM cret_sessions s
		JOIN associates a ON a.id = s.associate_id
		WHERE s.end_time IS NULL
		ORDER BY s.start_time DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessionRecords(rows)
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.associate_id, s.start_time, s.end_time, s.hours_used,
			s.created_by, s.override_warning, s.override_reason,
			a.badge_id, a.login, a.name
		FROM cret_sessions s
		JOIN associates a ON a.id = s.associate_id
		ORDER BY s.start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessionRecords(rows)
}

func (s *Store) ListAssociateSessions(ctx context.Context, associateID string, limit int) ([]models.CretSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM cret_sessions
		WHERE associate_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, associateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// EditSession is the administrative correction path. Hours are recomputed
// from the new bounds, or cleared when the session is reopened.
func (s *Store) EditSession(ctx context.Context, sessionID string, startTime time.Time, endTime *time.Time) (models.CretSession, error) {
	if endTime != nil {
		if _, err := timeutil.DurationHours(startTime, *endTime); err != nil {
			return models.CretSession{}, store.ErrInvalidRange
		}
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE cret_sessions
		SET start_time = $2,
			end_time = $3,
			hours_used = CASE
				WHEN $3::timestamptz IS NULL THEN NULL
				ELSE EXTRACT(EPOCH FROM ($3::timestamptz - $2::timestamptz)) / 3600.0
			END
		WHERE id = $1
		RETURNING `+sessionColumns+`
	`, sessionID, startTime, endTime)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CretSession{}, store.ErrSessionNotFound
		}
		return models.CretSession{}, err
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cret_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) getSession(ctx context.Context, sessionID string) (models.CretSession, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM cret_sessions
		WHERE id = $1
	`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CretSession{}, false, nil
		}
		return models.CretSession{}, false, err
	}
	return session, true, nil
}

func scanSession(row pgx.Row) (models.CretSession, error) {
	var session models.CretSession
	var endTimeNull sql.NullTime
	var hoursNull sql.NullFloat64
	var reasonNull sql.NullString
	err := row.Scan(&session.ID, &session.AssociateID, &session.StartTime, &endTimeNull, &hoursNull, &session.CreatedBy, &session.OverrideWarning, &reasonNull)
	if err != nil {
		return models.CretSession{}, err
	}
	if endTimeNull.Valid {
		endTime := endTimeNull.Time
		session.EndTime = &endTime
	}
	if hoursNull.Valid {
		hours := hoursNull.Float64
		session.HoursUsed = &hours
	}
	if reasonNull.Valid {
		reason := reasonNull.String
		session.OverrideReason = &reason
	}
	return session, nil
}

func collectSessions(rows pgx.Rows) ([]models.CretSession, error) {
	var sessions []models.CretSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func collectSessionRecords(rows pgx.Rows) ([]store.SessionRecord, error) {
	var records []store.SessionRecord
	for rows.Next() {
		var record store.SessionRecord
		var endTimeNull sql.NullTime
		var hoursNull sql.NullFloat64
		var reasonNull sql.NullString
		var nameNull sql.NullString
		err := rows.Scan(&record.ID, &record.AssociateID, &record.StartTime, &endTimeNull, &hoursNull,
			&record.CreatedBy, &record.OverrideWarning, &reasonNull,
			&record.BadgeID, &record.Login, &nameNull)
		if err != nil {
			return nil, err
		}
		if endTimeNull.Valid {
			endTime := endTimeNull.Time
			record.EndTime = &endTime
		}
		if hoursNull.Valid {
			hours := hoursNull.Float64
			record.HoursUsed = &hours
		}
		if reasonNull.Valid {
			reason := reasonNull.String
			record.OverrideReason = &reason
		}
		if nameNull.Valid {
			record.Name = nameNull.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
