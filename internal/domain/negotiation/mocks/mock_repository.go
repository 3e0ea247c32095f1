package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/accord-hub/accord-hub/internal/domain/negotiation"
)

// MockRepository is a mock implementation of negotiation.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateSession(ctx context.Context, s *negotiation.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) GetSession(ctx context.Context, sessionID uuid.UUID) (*negotiation.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*negotiation.Session), args.Error(1)
}

func (m *MockRepository) ListSessions(ctx context.Context, state negotiation.State, limit, offset int) ([]*negotiation.Session, error) {
	args := m.Called(ctx, state, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*negotiation.Session), args.Error(1)
}

func (m *MockRepository) UpdateSessionStateCAS(ctx context.Context, sessionID uuid.UUID, expected, next negotiation.State) (bool, error) {
	args := m.Called(ctx, sessionID, expected, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateSessionTerms(ctx context.Context, sessionID uuid.UUID, terms []byte, termsVersion int) error {
	args := m.Called(ctx, sessionID, terms, termsVersion)
	return args.Error(0)
}

func (m *MockRepository) AddJoined(ctx context.Context, sessionID uuid.UUID, participant string) error {
	args := m.Called(ctx, sessionID, participant)
	return args.Error(0)
}

func (m *MockRepository) SetCommitment(ctx context.Context, sessionID uuid.UUID, c *negotiation.BindingCommitment) error {
	args := m.Called(ctx, sessionID, c)
	return args.Error(0)
}

func (m *MockRepository) MarkChainCorrupt(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*negotiation.Session, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*negotiation.Session), args.Error(1)
}

func (m *MockRepository) AppendMessage(ctx context.Context, msg *negotiation.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*negotiation.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*negotiation.Message), args.Error(1)
}

func (m *MockRepository) LastMessage(ctx context.Context, sessionID uuid.UUID) (*negotiation.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*negotiation.Message), args.Error(1)
}

func (m *MockRepository) FindByIdempotencyKey(ctx context.Context, sessionID uuid.UUID, key string) (*negotiation.Message, error) {
	args := m.Called(ctx, sessionID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*negotiation.Message), args.Error(1)
}

func (m *MockRepository) FindInitiateByIdempotencyKey(ctx context.Context, key string) (*negotiation.Message, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*negotiation.Message), args.Error(1)
}

func (m *MockRepository) AddAcceptance(ctx context.Context, r *negotiation.AcceptanceRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) ListAcceptances(ctx context.Context, sessionID uuid.UUID) ([]negotiation.AcceptanceRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]negotiation.AcceptanceRecord), args.Error(1)
}

func (m *MockRepository) AddFinalization(ctx context.Context, r *negotiation.FinalizationRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) ListFinalizations(ctx context.Context, sessionID uuid.UUID) ([]negotiation.FinalizationRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]negotiation.FinalizationRecord), args.Error(1)
}
