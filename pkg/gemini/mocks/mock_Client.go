// Package mocks provides test doubles for the gemini client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	gemini "github.com/sells-group/topic-cli/pkg/gemini"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// ListModels provides a mock function with given fields: ctx, apiKey
func (_m *MockClient) ListModels(ctx context.Context, apiKey string) ([]gemini.Model, error) {
	ret := _m.Called(ctx, apiKey)

	if len(ret) == 0 {
		panic("no return value specified for ListModels")
	}

	var r0 []gemini.Model
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) ([]gemini.Model, error)); ok {
		return rf(ctx, apiKey)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) []gemini.Model); ok {
		r0 = rf(ctx, apiKey)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]gemini.Model)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, apiKey)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// GenerateContent provides a mock function with given fields: ctx, apiKey, req
func (_m *MockClient) GenerateContent(ctx context.Context, apiKey string, req gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	ret := _m.Called(ctx, apiKey, req)

	if len(ret) == 0 {
		panic("no return value specified for GenerateContent")
	}

	var r0 *gemini.GenerateResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, gemini.GenerateRequest) (*gemini.GenerateResponse, error)); ok {
		return rf(ctx, apiKey, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, gemini.GenerateRequest) *gemini.GenerateResponse); ok {
		r0 = rf(ctx, apiKey, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*gemini.GenerateResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, gemini.GenerateRequest) error); ok {
		r1 = rf(ctx, apiKey, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
