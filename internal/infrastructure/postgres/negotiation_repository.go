package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	pool *pgxpool.Pool
}

func NewNegotiationRepository(pool *pgxpool.Pool) *NegotiationRepository {
	return &NegotiationRepository{pool: pool}
}

func (r *NegotiationRepository) CreateSession(ctx context.Context, s *negotiation.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO negotiation_sessions
		(session_id, initiator, participants, joined, state, terms, terms_version, quorum_count, terms_policy,
		 negotiation_deadline, finalization_deadline, chain_corrupt, trace_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, s.SessionID, s.Initiator, s.Participants, s.Joined, s.State, s.Terms, s.TermsVersion, s.QuorumCount,
		s.TermsPolicy, s.NegotiationDeadline, s.FinalizationDeadline, s.ChainCorrupt, s.TraceID, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *NegotiationRepository) GetSession(ctx context.Context, sessionID uuid.UUID) (*negotiation.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, session_id, initiator, participants, joined, state, terms, terms_version, quorum_count,
		       terms_policy, negotiation_deadline, finalization_deadline, commitment, chain_corrupt, trace_id,
		       created_at, updated_at
		FROM negotiation_sessions
		WHERE session_id=$1
	`, sessionID)
	return scanSession(row)
}

func (r *NegotiationRepository) ListSessions(ctx context.Context, state negotiation.State, limit, offset int) ([]*negotiation.Session, error) {
	query := `
		SELECT id, session_id, initiator, participants, joined, state, terms, terms_version, quorum_count,
		       terms_policy, negotiation_deadline, finalization_deadline, commitment, chain_corrupt, trace_id,
		       created_at, updated_at
		FROM negotiation_sessions
	`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, state, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*negotiation.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) UpdateSessionStateCAS(ctx context.Context, sessionID uuid.UUID, expected, next negotiation.State) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE negotiation_sessions
		SET state=$1, updated_at=$2
		WHERE session_id=$3 AND state=$4
	`, next, time.Now().UTC(), sessionID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NegotiationRepository) UpdateSessionTerms(ctx context.Context, sessionID uuid.UUID, terms []byte, termsVersion int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE negotiation_sessions
		SET terms=$1, terms_version=$2, updated_at=$3
		WHERE session_id=$4
	`, terms, termsVersion, time.Now().UTC(), sessionID)
	return err
}

func (r *NegotiationRepository) AddJoined(ctx context.Context, sessionID uuid.UUID, participant string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE negotiation_sessions
		SET joined=array_append(joined, $1), updated_at=$2
		WHERE session_id=$3 AND NOT ($1 = ANY(joined))
	`, participant, time.Now().UTC(), sessionID)
	return err
}

func (r *NegotiationRepository) SetCommitment(ctx context.Context, sessionID uuid.UUID, c *negotiation.BindingCommitment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE negotiation_sessions
		SET commitment=$1, updated_at=$2
		WHERE session_id=$3
	`, data, time.Now().UTC(), sessionID)
	return err
}

func (r *NegotiationRepository) MarkChainCorrupt(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE negotiation_sessions
		SET chain_corrupt=TRUE, updated_at=$1
		WHERE session_id=$2
	`, time.Now().UTC(), sessionID)
	return err
}

func (r *NegotiationRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*negotiation.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, initiator, participants, joined, state, terms, terms_version, quorum_count,
		       terms_policy, negotiation_deadline, finalization_deadline, commitment, chain_corrupt, trace_id,
		       created_at, updated_at
		FROM negotiation_sessions
		WHERE (state IN ('INITIATED','NEGOTIATING') AND negotiation_deadline < $1)
		   OR (state = 'CONSENSUS_REACHED' AND finalization_deadline < $1)
		ORDER BY negotiation_deadline ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*negotiation.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) AppendMessage(ctx context.Context, m *negotiation.Message) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_messages
		(message_id, session_id, sequence, sender, kind, payload, timestamp, content_hash, prev_hash, chain_hash,
		 signature, key_id, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''))
		RETURNING id
	`, m.MessageID, m.SessionID, m.Sequence, m.Sender, m.Kind, m.Payload, m.Timestamp, m.ContentHash,
		m.PrevHash, m.ChainHash, m.Signature, m.KeyID, m.IdempotencyKey).Scan(&m.ID)
	if err != nil && isUniqueViolation(err) {
		return negotiation.ConflictErrorf("message sequence or idempotency key already used")
	}
	return err
}

func (r *NegotiationRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*negotiation.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, session_id, sequence, sender, kind, payload, timestamp, content_hash, prev_hash,
		       chain_hash, COALESCE(signature,''), COALESCE(key_id,''), COALESCE(idempotency_key,'')
		FROM negotiation_messages
		WHERE session_id=$1
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*negotiation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) LastMessage(ctx context.Context, sessionID uuid.UUID) (*negotiation.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, message_id, session_id, sequence, sender, kind, payload, timestamp, content_hash, prev_hash,
		       chain_hash, COALESCE(signature,''), COALESCE(key_id,''), COALESCE(idempotency_key,'')
		FROM negotiation_messages
		WHERE session_id=$1
		ORDER BY sequence DESC
		LIMIT 1
	`, sessionID)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *NegotiationRepository) FindByIdempotencyKey(ctx context.Context, sessionID uuid.UUID, key string) (*negotiation.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, message_id, session_id, sequence, sender, kind, payload, timestamp, content_hash, prev_hash,
		       chain_hash, COALESCE(signature,''), COALESCE(key_id,''), COALESCE(idempotency_key,'')
		FROM negotiation_messages
		WHERE session_id=$1 AND idempotency_key=$2
	`, sessionID, key)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *NegotiationRepository) FindInitiateByIdempotencyKey(ctx context.Context, key string) (*negotiation.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, message_id, session_id, sequence, sender, kind, payload, timestamp, content_hash, prev_hash,
		       chain_hash, COALESCE(signature,''), COALESCE(key_id,''), COALESCE(idempotency_key,'')
		FROM negotiation_messages
		WHERE kind='INITIATE' AND idempotency_key=$1
	`, key)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *NegotiationRepository) AddAcceptance(ctx context.Context, rec *negotiation.AcceptanceRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_acceptances (session_id, participant, terms_version, accepted_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, rec.SessionID, rec.Participant, rec.TermsVersion, rec.AcceptedAt).Scan(&rec.ID)
	if err != nil && isUniqueViolation(err) {
		return negotiation.ConflictErrorf("acceptance already recorded")
	}
	return err
}

func (r *NegotiationRepository) ListAcceptances(ctx context.Context, sessionID uuid.UUID) ([]negotiation.AcceptanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, participant, terms_version, accepted_at
		FROM negotiation_acceptances
		WHERE session_id=$1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []negotiation.AcceptanceRecord
	for rows.Next() {
		var rec negotiation.AcceptanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Participant, &rec.TermsVersion, &rec.AcceptedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *NegotiationRepository) AddFinalization(ctx context.Context, rec *negotiation.FinalizationRecord) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO negotiation_finalizations (session_id, participant, terms_version, finalized_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, rec.SessionID, rec.Participant, rec.TermsVersion, rec.FinalizedAt).Scan(&rec.ID)
	if err != nil && isUniqueViolation(err) {
		return negotiation.ConflictErrorf("finalization already recorded")
	}
	return err
}

func (r *NegotiationRepository) ListFinalizations(ctx context.Context, sessionID uuid.UUID) ([]negotiation.FinalizationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, participant, terms_version, finalized_at
		FROM negotiation_finalizations
		WHERE session_id=$1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []negotiation.FinalizationRecord
	for rows.Next() {
		var rec negotiation.FinalizationRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Participant, &rec.TermsVersion, &rec.FinalizedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*negotiation.Session, error) {
	var s negotiation.Session
	var commitmentData []byte
	if err := row.Scan(&s.ID, &s.SessionID, &s.Initiator, &s.Participants, &s.Joined, &s.State, &s.Terms,
		&s.TermsVersion, &s.QuorumCount, &s.TermsPolicy, &s.NegotiationDeadline, &s.FinalizationDeadline,
		&commitmentData, &s.ChainCorrupt, &s.TraceID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, negotiation.ErrSessionNotFound
		}
		return nil, err
	}
	if len(commitmentData) > 0 {
		var c negotiation.BindingCommitment
		if err := json.Unmarshal(commitmentData, &c); err != nil {
			return nil, err
		}
		s.Commitment = &c
	}
	return &s, nil
}

func scanMessage(row pgx.Row) (*negotiation.Message, error) {
	var m negotiation.Message
	if err := row.Scan(&m.ID, &m.MessageID, &m.SessionID, &m.Sequence, &m.Sender, &m.Kind, &m.Payload,
		&m.Timestamp, &m.ContentHash, &m.PrevHash, &m.ChainHash, &m.Signature, &m.KeyID, &m.IdempotencyKey); err != nil {
		return nil, err
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
