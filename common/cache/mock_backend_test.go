package cache

import (
	"github.com/dgraph-io/ristretto"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock type for the Backend type
type MockBackend[K ristretto.Key, V any] struct {
	mock.Mock
}

// Get provides a mock function with given fields: key
func (_m *MockBackend[K, V]) Get(key K) (V, bool) {
	ret := _m.Called(key)
	var r0 V
	if rf, ok := ret.Get(0).(func(K) V); ok {
		r0 = rf(key)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(V)
	}
	return r0, ret.Bool(1)
}

// Set provides a mock function with given fields: key, value
func (_m *MockBackend[K, V]) Set(key K, value V) bool {
	ret := _m.Called(key, value)
	return ret.Bool(0)
}
