package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accord-hub/accord-hub/internal/domain/dispute"
)

// DisputeRepository implements dispute.Repository.
type DisputeRepository struct {
	pool *pgxpool.Pool
}

func NewDisputeRepository(pool *pgxpool.Pool) *DisputeRepository {
	return &DisputeRepository{pool: pool}
}

func (r *DisputeRepository) Create(ctx context.Context, d *dispute.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_disputes
		(dispute_id, session_id, raised_by, binding_hash, evidence, status, external_reference, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, d.DisputeID, d.SessionID, d.RaisedBy, d.BindingHash, d.Evidence, d.Status, d.ExternalReference,
		d.Error, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
}

func (r *DisputeRepository) Get(ctx context.Context, disputeID uuid.UUID) (*dispute.Dispute, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, dispute_id, session_id, raised_by, binding_hash, evidence, status,
		       COALESCE(external_reference,''), COALESCE(error,''), created_at, updated_at
		FROM negotiation_disputes
		WHERE dispute_id=$1
	`, disputeID)
	return scanDispute(row)
}

func (r *DisputeRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*dispute.Dispute, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, dispute_id, session_id, raised_by, binding_hash, evidence, status,
		       COALESCE(external_reference,''), COALESCE(error,''), created_at, updated_at
		FROM negotiation_disputes
		WHERE session_id=$1
	`, sessionID)
	return scanDispute(row)
}

func (r *DisputeRepository) UpdateStatus(ctx context.Context, disputeID uuid.UUID, status dispute.Status, externalRef, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE negotiation_disputes
		SET status=$1, external_reference=$2, error=$3, updated_at=$4
		WHERE dispute_id=$5
	`, status, externalRef, errMsg, time.Now().UTC(), disputeID)
	return err
}

func scanDispute(row pgx.Row) (*dispute.Dispute, error) {
	var d dispute.Dispute
	if err := row.Scan(&d.ID, &d.DisputeID, &d.SessionID, &d.RaisedBy, &d.BindingHash, &d.Evidence,
		&d.Status, &d.ExternalReference, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}
