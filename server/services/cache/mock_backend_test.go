package cache

import (
	"github.com/stretchr/testify/mock"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
)

// MockCacheBackend is a mock type for the Backend type
type MockCacheBackend struct {
	mock.Mock
}

// Get provides a mock function with given fields: key
func (_m *MockCacheBackend) Get(key string) (*process.Model, bool) {
	ret := _m.Called(key)
	var r0 *process.Model
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*process.Model)
	}
	return r0, ret.Bool(1)
}

// Set provides a mock function with given fields: key, value
func (_m *MockCacheBackend) Set(key string, value *process.Model) bool {
	ret := _m.Called(key, value)
	return ret.Bool(0)
}
