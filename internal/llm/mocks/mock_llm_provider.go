package mocks

import (
	context "context"

	llm "ollama-chat/internal/llm"

	mock "github.com/stretchr/testify/mock"
)

// MockLLMProvider is a mock type for the LLMProvider type
type MockLLMProvider struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, req
func (_m *MockLLMProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	ret := _m.Called(ctx, req)

	var r0 *llm.GenerateResponse
	if rf, ok := ret.Get(0).(func(context.Context, *llm.GenerateRequest) *llm.GenerateResponse); ok {
		r0 = rf(ctx, req)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*llm.GenerateResponse)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, *llm.GenerateRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// GenerateStream provides a mock function with given fields: ctx, req, ch
func (_m *MockLLMProvider) GenerateStream(ctx context.Context, req *llm.GenerateRequest, ch chan<- llm.StreamResponse) error {
	ret := _m.Called(ctx, req, ch)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *llm.GenerateRequest, chan<- llm.StreamResponse) error); ok {
		r0 = rf(ctx, req, ch)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// ListModels provides a mock function with given fields: ctx
func (_m *MockLLMProvider) ListModels(ctx context.Context) ([]string, error) {
	ret := _m.Called(ctx)

	var r0 []string
	if rf, ok := ret.Get(0).(func(context.Context) []string); ok {
		r0 = rf(ctx)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// PullModel provides a mock function with given fields: ctx, req, ch
func (_m *MockLLMProvider) PullModel(ctx context.Context, req *llm.PullModelRequest, ch chan<- llm.Progress) error {
	ret := _m.Called(ctx, req, ch)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *llm.PullModelRequest, chan<- llm.Progress) error); ok {
		r0 = rf(ctx, req, ch)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Version provides a mock function with given fields: ctx
func (_m *MockLLMProvider) Version(ctx context.Context) (string, error) {
	ret := _m.Called(ctx)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context) string); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Get(0).(string)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockLLMProvider creates a new instance of MockLLMProvider. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockLLMProvider(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLLMProvider {
	mock := &MockLLMProvider{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
