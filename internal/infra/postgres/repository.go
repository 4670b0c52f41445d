package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-activity-service/internal/domain"
)

const uniqueViolation = "23505"

// Repository stores events, activities and participants as JSONB documents.
// Activities carry a version column; writes are conditional on it.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var event domain.Event
	err := r.queryDoc(ctx, &event, `SELECT data FROM events WHERE id=$1`, eventID)
	return event, err
}

func (r *Repository) FindEventByPIN(ctx context.Context, pin string) (domain.Event, error) {
	var event domain.Event
	err := r.queryDoc(ctx, &event, `SELECT data FROM events WHERE game_pin=$1 AND status <> 'completed'`, pin)
	return event, err
}

// PutEvent upserts the event. A pin held by another open event violates the
// partial unique index and surfaces as domain.ErrVersionConflict.
func (r *Repository) PutEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO events (id, game_pin, status, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET game_pin = EXCLUDED.game_pin, status = EXCLUDED.status, data = EXCLUDED.data, updated_at = now()`,
		event.ID, event.GamePIN, string(event.Status), data)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

func (r *Repository) GetActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	var a domain.Activity
	err := r.queryDoc(ctx, &a, `SELECT data FROM activities WHERE id=$1`, activityID)
	return a, err
}

func (r *Repository) ListActivities(ctx context.Context, eventID string) ([]domain.Activity, error) {
	var out []domain.Activity
	err := r.queryDocs(ctx, `SELECT data FROM activities WHERE event_id=$1 ORDER BY position`, []any{eventID}, func(raw []byte) error {
		var a domain.Activity
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("unmarshal activity: %w", err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// PutActivities writes every activity in one transaction. New records
// (version 0) are inserted; existing ones are updated only while the stored
// version still matches.
func (r *Repository) PutActivities(ctx context.Context, activities ...domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, a := range activities {
		stored := a
		stored.Version++
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode activity: %w", err)
		}

		var tag pgconn.CommandTag
		if a.Version == 0 {
			tag, err = tx.Exec(ctx, `
				INSERT INTO activities (id, event_id, position, version, data)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO NOTHING`,
				a.ID, a.EventID, a.Order, stored.Version, data)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE activities SET position=$2, version=$3, data=$4
				WHERE id=$1 AND version=$5`,
				a.ID, a.Order, stored.Version, data, a.Version)
		}
		if err != nil {
			return fmt.Errorf("put activity: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return domain.ErrVersionConflict
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repository) GetParticipant(ctx context.Context, participantID string) (domain.Participant, error) {
	var p domain.Participant
	err := r.queryDoc(ctx, &p, `SELECT data FROM participants WHERE id=$1`, participantID)
	return p, err
}

func (r *Repository) ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error) {
	var out []domain.Participant
	err := r.queryDocs(ctx, `SELECT data FROM participants WHERE event_id=$1 ORDER BY joined_at`, []any{eventID}, func(raw []byte) error {
		var p domain.Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("unmarshal participant: %w", err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (r *Repository) PutParticipant(ctx context.Context, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO participants (id, event_id, joined_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		p.ID, p.EventID, p.JoinedAt, data)
	if err != nil {
		return fmt.Errorf("put participant: %w", err)
	}
	return nil
}

func (r *Repository) queryDoc(ctx context.Context, dst any, sql string, args ...any) error {
	var raw []byte
	err := r.pool.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func (r *Repository) queryDocs(ctx context.Context, sql string, args []any, decode func([]byte) error) error {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := decode(raw); err != nil {
			return err
		}
	}
	return rows.Err()
}
