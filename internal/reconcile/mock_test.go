package reconcile

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/store"
)

// --- FundTx Mock ---

type mockFundTx struct {
	mock.Mock
}

func (m *mockFundTx) FindFundByCode(ctx context.Context, code string) (*model.Fund, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Fund), args.Error(1)
}

func (m *mockFundTx) InsertFund(ctx context.Context, f *model.Fund) (int64, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFundTx) UpdateFund(ctx context.Context, f *model.Fund) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *mockFundTx) DeleteChartsByFundID(ctx context.Context, fundID int64) (int64, error) {
	args := m.Called(ctx, fundID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFundTx) InsertCharts(ctx context.Context, charts []model.ChartPoint) (int64, error) {
	args := m.Called(ctx, charts)
	return args.Get(0).(int64), args.Error(1)
}

// --- TxRunner fake ---

// fakeTxRunner hands the mock to fn and reports whether fn succeeded.
type fakeTxRunner struct {
	tx         *mockFundTx
	committed  bool
	rolledBack bool
}

func (f *fakeTxRunner) WithTx(_ context.Context, fn func(tx store.FundTx) error) error {
	if err := fn(f.tx); err != nil {
		f.rolledBack = true
		return err
	}
	f.committed = true
	return nil
}
