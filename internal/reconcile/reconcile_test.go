package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/store"
)

func embeddedCharts() []model.ChartPoint {
	rr := 0.012
	return []model.ChartPoint{
		{Category: "1M", ReturnRate: &rr, Source: model.ChartSourceEmbedded},
		{Category: "3M", Source: model.ChartSourceEmbedded},
	}
}

func detailCharts() []model.ChartPoint {
	asOf := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	return []model.ChartPoint{
		{AsOfDate: &asOf, Category: "주식", EvaluationAmount: 1234, Weight: 0.625, Source: model.ChartSourceDetail},
	}
}

func TestMerge_OrderAndStamp(t *testing.T) {
	embedded, detail := embeddedCharts(), detailCharts()

	merged := Merge(embedded, detail, 42)
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"1M", "3M", "주식"}, []string{merged[0].Category, merged[1].Category, merged[2].Category})
	for _, p := range merged {
		require.NotNil(t, p.FundID)
		assert.Equal(t, int64(42), *p.FundID)
	}
	// Inputs untouched.
	assert.Nil(t, embedded[0].FundID)
	assert.Nil(t, detail[0].FundID)
}

func TestReconcile_InsertsNewFund(t *testing.T) {
	tx := &mockFundTx{}
	runner := &fakeTxRunner{tx: tx}
	fund := &model.Fund{Code: "KR5101", Name: "fund"}

	tx.On("FindFundByCode", mock.Anything, "KR5101").Return(nil, nil)
	tx.On("InsertFund", mock.Anything, mock.MatchedBy(func(f *model.Fund) bool {
		return f.Code == "KR5101" && f.ID == nil
	})).Return(int64(7), nil)
	tx.On("InsertCharts", mock.Anything, mock.MatchedBy(func(c []model.ChartPoint) bool {
		if len(c) != 3 {
			return false
		}
		for _, p := range c {
			if p.FundID == nil || *p.FundID != 7 {
				return false
			}
		}
		return true
	})).Return(int64(3), nil)

	id, err := New(runner).Reconcile(context.Background(), fund, embeddedCharts(), detailCharts())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NotNil(t, fund.ID)
	assert.Equal(t, int64(7), *fund.ID)
	assert.True(t, runner.committed)
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "UpdateFund", mock.Anything, mock.Anything)
	tx.AssertNotCalled(t, "DeleteChartsByFundID", mock.Anything, mock.Anything)
}

func TestReconcile_UpdatesExistingFund(t *testing.T) {
	tx := &mockFundTx{}
	runner := &fakeTxRunner{tx: tx}
	existingID := int64(9)
	fund := &model.Fund{Code: "KR5101", Name: "renamed"}

	tx.On("FindFundByCode", mock.Anything, "KR5101").Return(&model.Fund{ID: &existingID, Code: "KR5101"}, nil)
	tx.On("UpdateFund", mock.Anything, mock.MatchedBy(func(f *model.Fund) bool {
		return f.ID != nil && *f.ID == 9 && f.Name == "renamed"
	})).Return(nil)
	tx.On("DeleteChartsByFundID", mock.Anything, int64(9)).Return(int64(5), nil)
	tx.On("InsertCharts", mock.Anything, mock.Anything).Return(int64(1), nil)

	id, err := New(runner).Reconcile(context.Background(), fund, nil, detailCharts())
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "InsertFund", mock.Anything, mock.Anything)
}

func TestReconcile_NoChartsSkipsInsert(t *testing.T) {
	tx := &mockFundTx{}
	runner := &fakeTxRunner{tx: tx}

	tx.On("FindFundByCode", mock.Anything, "KR5101").Return(nil, nil)
	tx.On("InsertFund", mock.Anything, mock.Anything).Return(int64(3), nil)

	_, err := New(runner).Reconcile(context.Background(), &model.Fund{Code: "KR5101"}, nil, nil)
	require.NoError(t, err)
	tx.AssertNotCalled(t, "InsertCharts", mock.Anything, mock.Anything)
}

func TestReconcile_InsertWithoutIDRollsBack(t *testing.T) {
	tx := &mockFundTx{}
	runner := &fakeTxRunner{tx: tx}
	fund := &model.Fund{Code: "KR5101"}

	tx.On("FindFundByCode", mock.Anything, "KR5101").Return(nil, nil)
	tx.On("InsertFund", mock.Anything, mock.Anything).Return(int64(0), nil)

	_, err := New(runner).Reconcile(context.Background(), fund, embeddedCharts(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoID)
	assert.True(t, runner.rolledBack)
	assert.Nil(t, fund.ID)
	tx.AssertNotCalled(t, "InsertCharts", mock.Anything, mock.Anything)
}

func TestReconcile_StoreErrorPropagates(t *testing.T) {
	tx := &mockFundTx{}
	runner := &fakeTxRunner{tx: tx}
	boom := errors.New("connection reset")

	tx.On("FindFundByCode", mock.Anything, "KR5101").Return(nil, boom)

	_, err := New(runner).Reconcile(context.Background(), &model.Fund{Code: "KR5101"}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fund KR5101")
	assert.True(t, runner.rolledBack)
}

// --- against a real SQLite store ---

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "funds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestReconcile_SQLite_FirstInsertStoresAllCharts(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()

	id, err := New(st).Reconcile(ctx, &model.Fund{Code: "KR5101", Name: "fund"}, embeddedCharts(), detailCharts())
	require.NoError(t, err)

	funds, err := st.ListFunds(ctx)
	require.NoError(t, err)
	require.Len(t, funds, 1)

	charts, err := st.ListCharts(ctx, "KR5101")
	require.NoError(t, err)
	require.Len(t, charts, 3)
	for _, c := range charts {
		require.NotNil(t, c.FundID)
		assert.Equal(t, id, *c.FundID)
	}
	assert.Equal(t, model.ChartSourceEmbedded, charts[0].Source)
	assert.Equal(t, model.ChartSourceDetail, charts[2].Source)
}

func TestReconcile_SQLite_UpdateReplacesCharts(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	r := New(st)

	first, err := r.Reconcile(ctx, &model.Fund{Code: "KR5101", Name: "v1"}, embeddedCharts(), detailCharts())
	require.NoError(t, err)

	asOf := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	fresh := []model.ChartPoint{
		{AsOfDate: &asOf, Category: "채권", Weight: 0.3, Source: model.ChartSourceDetail},
		{AsOfDate: &asOf, Category: "현금", Weight: 0.7, Source: model.ChartSourceDetail},
	}
	second, err := r.Reconcile(ctx, &model.Fund{Code: "KR5101", Name: "v2"}, nil, fresh)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	funds, err := st.ListFunds(ctx)
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, "v2", funds[0].Name)

	charts, err := st.ListCharts(ctx, "KR5101")
	require.NoError(t, err)
	require.Len(t, charts, 2)
	assert.Equal(t, "채권", charts[0].Category)
	assert.Equal(t, "현금", charts[1].Category)
	for _, c := range charts {
		assert.True(t, asOf.Equal(*c.AsOfDate))
	}
}
