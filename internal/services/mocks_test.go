package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bothive/backend/internal/gateway"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initialize(ctx context.Context, email string, amount int64, currency string, channels []string, reference string) (*gateway.InitializeResult, error) {
	args := m.Called(ctx, email, amount, currency, channels, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitializeResult), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.VerifyResult), args.Error(1)
}

func (m *MockGateway) ChargeMobileMoney(ctx context.Context, email string, amount int64, currency, phone, provider string) (*gateway.MobileChargeResult, error) {
	args := m.Called(ctx, email, amount, currency, phone, provider)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.MobileChargeResult), args.Error(1)
}

func (m *MockGateway) CheckStatus(ctx context.Context, reference string) (string, error) {
	args := m.Called(ctx, reference)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, accountID, title, message, severity string) {
	m.Called(ctx, accountID, title, message, severity)
}
