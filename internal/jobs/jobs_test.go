// internal/jobs/jobs_test.go
package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/config"
	"github.com/jules-labs/lending/internal/ledger"
	"github.com/jules-labs/lending/internal/logger"
)

type mockService struct {
	circulation.Service
	mock.Mock
}

func (m *mockService) SweepExpiredHolds(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func (m *mockService) MarkOverdue(ctx context.Context) []ledger.Loan {
	args := m.Called(ctx)
	loans, _ := args.Get(0).([]ledger.Loan)
	return loans
}

func (m *mockService) SendDueReminders(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

type mockReplicator struct {
	mock.Mock
}

func (m *mockReplicator) Sync(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestRunAllCallsEveryJob(t *testing.T) {
	svc := &mockService{}
	svc.On("SweepExpiredHolds", mock.Anything).Return(2).Once()
	svc.On("MarkOverdue", mock.Anything).Return([]ledger.Loan{{User: "alice", Item: "ISBN1"}}).Once()
	svc.On("SendDueReminders", mock.Anything).Return(0).Once()
	rep := &mockReplicator{}
	rep.On("Sync", mock.Anything).Return(3, nil).Once()

	NewRunner(svc, rep, logger.Discard()).RunAll()

	svc.AssertExpectations(t)
	rep.AssertExpectations(t)
}

func TestReplicationFailureIsContained(t *testing.T) {
	rep := &mockReplicator{}
	rep.On("Sync", mock.Anything).Return(1, errors.New("connection refused")).Once()

	assert.NotPanics(t, NewRunner(&mockService{}, rep, logger.Discard()).ReplicateJournal)
	rep.AssertExpectations(t)
}

func TestJobPanicIsRecovered(t *testing.T) {
	svc := &mockService{}
	svc.On("SweepExpiredHolds", mock.Anything).Panic("boom").Once()

	assert.NotPanics(t, NewRunner(svc, nil, logger.Discard()).SweepExpiredHolds)
}

func TestNilReplicatorIsSkipped(t *testing.T) {
	assert.NotPanics(t, NewRunner(&mockService{}, nil, logger.Discard()).ReplicateJournal)
}

func TestSchedulerRegistersJobs(t *testing.T) {
	cfg := config.Default().Jobs

	s, err := NewScheduler(NewRunner(&mockService{}, nil, logger.Discard()), cfg, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())

	s, err = NewScheduler(NewRunner(&mockService{}, &mockReplicator{}, logger.Discard()), cfg, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 4, s.Entries())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	cfg := config.Default().Jobs
	cfg.MarkOverdue = "whenever"

	_, err := NewScheduler(NewRunner(&mockService{}, nil, logger.Discard()), cfg, logger.Discard())
	assert.ErrorContains(t, err, "MarkOverdue")
}

func TestSchedulerRunsJobs(t *testing.T) {
	svc := &mockService{}
	swept := make(chan struct{}, 8)
	svc.On("SweepExpiredHolds", mock.Anything).Return(0).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	cfg := config.Default().Jobs
	cfg.SweepHolds = "* * * * * *"
	s, err := NewScheduler(NewRunner(svc, nil, logger.Discard()), cfg, logger.Discard())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep job did not run")
	}
}
