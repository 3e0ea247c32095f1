package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/accord-hub/accord-hub/internal/domain/audit"
	domain "github.com/accord-hub/accord-hub/internal/domain/negotiation"
	"github.com/accord-hub/accord-hub/internal/domain/negotiation/mocks"
)

type capturedTransition struct {
	sessionID uuid.UUID
	actor     string
	from      string
	to        string
}

type captureEmitter struct {
	events []capturedTransition
}

func (e *captureEmitter) EmitTransition(sessionID uuid.UUID, actor, fromState, toState, _ string) {
	e.events = append(e.events, capturedTransition{sessionID, actor, fromState, toState})
}

func TestSweepExpiresDueSessions(t *testing.T) {
	repo := new(mocks.MockRepository)
	emitter := &captureEmitter{}
	sup := New(repo, emitter, Config{}, zerolog.Nop())

	won := &domain.Session{SessionID: uuid.New(), State: domain.StateNegotiating}
	lost := &domain.Session{SessionID: uuid.New(), State: domain.StateConsensusReached}

	repo.On("ListExpirable", mock.Anything, mock.Anything, 100).
		Return([]*domain.Session{won, lost}, nil)
	repo.On("UpdateSessionStateCAS", mock.Anything, won.SessionID, domain.StateNegotiating, domain.StateExpired).
		Return(true, nil)
	// a client-driven transition beat the sweep to this one
	repo.On("UpdateSessionStateCAS", mock.Anything, lost.SessionID, domain.StateConsensusReached, domain.StateExpired).
		Return(false, nil)

	n, err := sup.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, emitter.events, 1)
	require.Equal(t, won.SessionID, emitter.events[0].sessionID)
	require.Equal(t, audit.ActorSupervisor, emitter.events[0].actor)
	require.Equal(t, string(domain.StateExpired), emitter.events[0].to)
	repo.AssertExpectations(t)
}

func TestSweepSkipsTerminalStates(t *testing.T) {
	repo := new(mocks.MockRepository)
	sup := New(repo, nil, Config{}, zerolog.Nop())

	repo.On("ListExpirable", mock.Anything, mock.Anything, 100).
		Return([]*domain.Session{
			{SessionID: uuid.New(), State: domain.StateBinding},
			{SessionID: uuid.New(), State: domain.StateTerminated},
		}, nil)

	n, err := sup.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	repo.AssertNotCalled(t, "UpdateSessionStateCAS", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepContinuesPastCASError(t *testing.T) {
	repo := new(mocks.MockRepository)
	sup := New(repo, nil, Config{BatchSize: 10}, zerolog.Nop())

	broken := &domain.Session{SessionID: uuid.New(), State: domain.StateInitiated}
	fine := &domain.Session{SessionID: uuid.New(), State: domain.StateInitiated}

	repo.On("ListExpirable", mock.Anything, mock.Anything, 10).
		Return([]*domain.Session{broken, fine}, nil)
	repo.On("UpdateSessionStateCAS", mock.Anything, broken.SessionID, domain.StateInitiated, domain.StateExpired).
		Return(false, errors.New("connection reset"))
	repo.On("UpdateSessionStateCAS", mock.Anything, fine.SessionID, domain.StateInitiated, domain.StateExpired).
		Return(true, nil)

	n, err := sup.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	repo.AssertExpectations(t)
}

func TestSweepListFailure(t *testing.T) {
	repo := new(mocks.MockRepository)
	sup := New(repo, nil, Config{}, zerolog.Nop())

	repo.On("ListExpirable", mock.Anything, mock.Anything, 100).
		Return(nil, errors.New("db down"))

	_, err := sup.Sweep(context.Background())
	require.Error(t, err)
}
