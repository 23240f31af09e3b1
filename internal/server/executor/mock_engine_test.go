package executor

import (
	"context"
	"github.com/stretchr/testify/mock"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"time"
)

// MockEngine is a mock type for the Engine type
type MockEngine struct {
	mock.Mock
}

// AcquireJobs provides a mock function with given fields: ctx, owner, limit, lockTimeout
func (_m *MockEngine) AcquireJobs(ctx context.Context, owner string, limit int, lockTimeout time.Duration) ([]*workflow.Job, error) {
	ret := _m.Called(ctx, owner, limit, lockTimeout)
	var r0 []*workflow.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*workflow.Job)
	}
	return r0, ret.Error(1)
}

// ExecuteJob provides a mock function with given fields: ctx, jobID, owner
func (_m *MockEngine) ExecuteJob(ctx context.Context, jobID string, owner string) error {
	ret := _m.Called(ctx, jobID, owner)
	return ret.Error(0)
}

// UnlockJob provides a mock function with given fields: ctx, jobID
func (_m *MockEngine) UnlockJob(ctx context.Context, jobID string) error {
	ret := _m.Called(ctx, jobID)
	return ret.Error(0)
}
