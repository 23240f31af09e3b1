package workflow

import (
	"context"
	"github.com/stretchr/testify/mock"
)

// MockJobScheduler is a mock type for the JobScheduler type
type MockJobScheduler struct {
	mock.Mock
}

// ScheduleJob provides a mock function with given fields: ctx, job
func (_m *MockJobScheduler) ScheduleJob(ctx context.Context, job *Job) error {
	ret := _m.Called(ctx, job)
	return ret.Error(0)
}

// RemoveJob provides a mock function with given fields: ctx, id
func (_m *MockJobScheduler) RemoveJob(ctx context.Context, id string) error {
	ret := _m.Called(ctx, id)
	return ret.Error(0)
}

// MockInterceptor is a mock type for the Interceptor type
type MockInterceptor struct {
	mock.Mock
}

// Priority provides a mock function with given fields:
func (_m *MockInterceptor) Priority() int {
	ret := _m.Called()
	return ret.Int(0)
}

// Intercept provides a mock function with given fields: ctx, cmd, next
func (_m *MockInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	ret := _m.Called(ctx, cmd, next)
	if fn, ok := ret.Get(0).(func(context.Context, Command, Next) (any, error)); ok {
		return fn(ctx, cmd, next)
	}
	return ret.Get(0), ret.Error(1)
}
