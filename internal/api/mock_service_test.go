package api

import (
	"context"

	"options_ledger/internal/engine"
	"options_ledger/internal/option"
	"options_ledger/internal/oracle"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockService struct {
	mock.Mock
}

var _ engine.Service = (*mockService)(nil)

func (m *mockService) WriteCall(ctx context.Context, req engine.WriteRequest) (uint64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockService) WritePut(ctx context.Context, req engine.WriteRequest) (uint64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockService) BuyCall(ctx context.Context, id uint64, buyer string) error {
	return m.Called(ctx, id, buyer).Error(0)
}

func (m *mockService) BuyPut(ctx context.Context, id uint64, buyer string) error {
	return m.Called(ctx, id, buyer).Error(0)
}

func (m *mockService) ExerciseCall(ctx context.Context, id uint64, caller string) error {
	return m.Called(ctx, id, caller).Error(0)
}

func (m *mockService) ExercisePut(ctx context.Context, id uint64, caller string) error {
	return m.Called(ctx, id, caller).Error(0)
}

func (m *mockService) ExpireWorthless(ctx context.Context, id uint64, caller string) error {
	return m.Called(ctx, id, caller).Error(0)
}

func (m *mockService) ReclaimCollateral(ctx context.Context, id uint64, caller string) error {
	return m.Called(ctx, id, caller).Error(0)
}

func (m *mockService) GetOption(id uint64) (*option.Option, error) {
	args := m.Called(id)
	opt, _ := args.Get(0).(*option.Option)
	return opt, args.Error(1)
}

func (m *mockService) ListPositions(account string) []uint64 {
	return m.Called(account).Get(0).([]uint64)
}

func (m *mockService) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockService) LatestRound(ctx context.Context) (oracle.Reading, error) {
	args := m.Called(ctx)
	return args.Get(0).(oracle.Reading), args.Error(1)
}

func (m *mockService) WithdrawExcessNative(ctx context.Context, operator, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, operator, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockService) WithdrawExcessSettlement(ctx context.Context, operator, to string) (decimal.Decimal, error) {
	args := m.Called(ctx, operator, to)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}
