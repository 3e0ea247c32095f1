package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accord-hub/accord-hub/internal/domain/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Insert(ctx context.Context, e *audit.TransitionEvent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_transitions
		(event_id, session_id, actor, from_state, to_state, timestamp, resulting_hash, signature, key_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, e.EventID, e.SessionID, e.Actor, e.FromState, e.ToState, e.Timestamp, e.ResultingHash,
		e.Signature, e.KeyID).Scan(&e.ID)
}

func (r *AuditRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*audit.TransitionEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, session_id, actor, from_state, to_state, timestamp,
		       COALESCE(resulting_hash,''), COALESCE(signature,''), COALESCE(key_id,'')
		FROM negotiation_transitions
		WHERE session_id=$1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.TransitionEvent
	for rows.Next() {
		var e audit.TransitionEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.SessionID, &e.Actor, &e.FromState, &e.ToState,
			&e.Timestamp, &e.ResultingHash, &e.Signature, &e.KeyID); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) ListRecent(ctx context.Context, limit int, afterID int64) ([]*audit.TransitionEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, session_id, actor, from_state, to_state, timestamp,
		       COALESCE(resulting_hash,''), COALESCE(signature,''), COALESCE(key_id,'')
		FROM negotiation_transitions
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.TransitionEvent
	for rows.Next() {
		var e audit.TransitionEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.SessionID, &e.Actor, &e.FromState, &e.ToState,
			&e.Timestamp, &e.ResultingHash, &e.Signature, &e.KeyID); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
