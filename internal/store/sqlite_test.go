package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fund-crawler/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func testFund(code, name string) *model.Fund {
	return &model.Fund{
		Code:        code,
		ExternalID:  "F-" + code,
		Name:        name,
		TypeName:    "주식형",
		NAV:         1234.5,
		TotalAssets: 98765,
		Return3M:    0.042,
	}
}

func insertFund(t *testing.T, st *SQLiteStore, f *model.Fund, charts []model.ChartPoint) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(context.Background(), func(tx FundTx) error {
		var err error
		id, err = tx.InsertFund(context.Background(), f)
		if err != nil {
			return err
		}
		model.StampFundID(charts, id)
		_, err = tx.InsertCharts(context.Background(), charts)
		return err
	})
	require.NoError(t, err)
	return id
}

// --- Funds ---

func TestSQLite_InsertAndFindFund(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id := insertFund(t, st, testFund("KR5101", "삼성 글로벌 주식"), nil)
	assert.Positive(t, id)

	err := st.WithTx(ctx, func(tx FundTx) error {
		got, err := tx.FindFundByCode(ctx, "KR5101")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.ID)
		assert.Equal(t, id, *got.ID)
		assert.Equal(t, "F-KR5101", got.ExternalID)
		assert.Equal(t, "삼성 글로벌 주식", got.Name)
		assert.InDelta(t, 1234.5, got.NAV, 1e-9)
		assert.False(t, got.CreatedAt.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_FindFund_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx FundTx) error {
		got, err := tx.FindFundByCode(ctx, "nope")
		assert.NoError(t, err)
		assert.Nil(t, got)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_InsertFund_DuplicateCode(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	insertFund(t, st, testFund("KR5101", "first"), nil)

	err := st.WithTx(ctx, func(tx FundTx) error {
		_, err := tx.InsertFund(ctx, testFund("KR5101", "second"))
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert fund KR5101")
}

func TestSQLite_UpdateFund(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id := insertFund(t, st, testFund("KR5101", "old name"), nil)

	f := testFund("KR5101", "new name")
	f.ID = &id
	f.NAV = 2000
	require.NoError(t, st.WithTx(ctx, func(tx FundTx) error {
		return tx.UpdateFund(ctx, f)
	}))

	funds, err := st.ListFunds(ctx)
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, "new name", funds[0].Name)
	assert.InDelta(t, 2000, funds[0].NAV, 1e-9)
}

func TestSQLite_UpdateFund_MissingID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx FundTx) error {
		return tx.UpdateFund(ctx, testFund("KR5101", "x"))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestSQLite_UpdateFund_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	f := testFund("KR5101", "x")
	f.ID = ptr(int64(42))
	err := st.WithTx(ctx, func(tx FundTx) error {
		return tx.UpdateFund(ctx, f)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fund not found")
}

func TestSQLite_SearchFunds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	insertFund(t, st, testFund("KR5101", "삼성 글로벌 반도체"), nil)
	insertFund(t, st, testFund("KR5102", "삼성 국내 채권"), nil)
	insertFund(t, st, testFund("US0001", "Global Tech"), nil)

	got, err := st.SearchFunds(ctx, "반도체")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KR5101", got[0].Code)

	got, err = st.SearchFunds(ctx, "KR51")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = st.SearchFunds(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_SearchFunds_WildcardsMatchLiterally(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	insertFund(t, st, testFund("KR5101", "수익률 5% 펀드"), nil)
	insertFund(t, st, testFund("KR5102", "수익률 50 펀드"), nil)
	insertFund(t, st, testFund("KR_103", "언더바 코드"), nil)
	insertFund(t, st, testFund("KRX104", "일반 코드"), nil)

	got, err := st.SearchFunds(ctx, "5%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KR5101", got[0].Code)

	got, err = st.SearchFunds(ctx, "KR_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KR_103", got[0].Code)

	got, err = st.SearchFunds(ctx, "%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "KR5101", got[0].Code)
}

// --- Charts ---

func TestSQLite_InsertCharts_PreservesOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	asOf := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	charts := []model.ChartPoint{
		{AsOfDate: &asOf, Category: "1M", ReturnRate: ptr(0.012), Source: model.ChartSourceEmbedded},
		{AsOfDate: &asOf, Category: "주식", EvaluationAmount: 1234, Weight: 0.625, Source: model.ChartSourceDetail},
		{Category: "현금", EvaluationAmount: 10, Weight: 0.01, Source: model.ChartSourceDetail},
	}
	insertFund(t, st, testFund("KR5101", "fund"), charts)

	got, err := st.ListCharts(ctx, "KR5101")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "1M", got[0].Category)
	assert.Equal(t, model.ChartSourceEmbedded, got[0].Source)
	require.NotNil(t, got[0].ReturnRate)
	assert.InDelta(t, 0.012, *got[0].ReturnRate, 1e-9)
	require.NotNil(t, got[0].AsOfDate)
	assert.True(t, asOf.Equal(*got[0].AsOfDate))

	assert.Equal(t, "주식", got[1].Category)
	assert.InDelta(t, 1234, got[1].EvaluationAmount, 1e-9)
	assert.InDelta(t, 0.625, got[1].Weight, 1e-9)
	assert.Nil(t, got[1].ReturnRate)

	assert.Equal(t, "현금", got[2].Category)
	assert.Nil(t, got[2].AsOfDate)
}

func TestSQLite_InsertCharts_RequiresFundID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx FundTx) error {
		_, err := tx.InsertCharts(ctx, []model.ChartPoint{{Category: "orphan", Source: model.ChartSourceDetail}})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no fund id")
}

func TestSQLite_DeleteChartsByFundID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id := insertFund(t, st, testFund("KR5101", "fund"), []model.ChartPoint{
		{Category: "a", Source: model.ChartSourceDetail},
		{Category: "b", Source: model.ChartSourceDetail},
	})
	other := insertFund(t, st, testFund("KR5102", "other"), []model.ChartPoint{
		{Category: "c", Source: model.ChartSourceDetail},
	})
	assert.NotEqual(t, id, other)

	var deleted int64
	require.NoError(t, st.WithTx(ctx, func(tx FundTx) error {
		var err error
		deleted, err = tx.DeleteChartsByFundID(ctx, id)
		return err
	}))
	assert.Equal(t, int64(2), deleted)

	got, err := st.ListCharts(ctx, "KR5101")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = st.ListCharts(ctx, "KR5102")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx FundTx) error {
		if _, err := tx.InsertFund(ctx, testFund("KR5101", "fund")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	funds, err := st.ListFunds(ctx)
	require.NoError(t, err)
	assert.Empty(t, funds)
}

func TestSQLite_WithTx_RollsBackOnPanic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = st.WithTx(ctx, func(tx FundTx) error {
			_, _ = tx.InsertFund(ctx, testFund("KR5101", "fund"))
			panic("bad record")
		})
	})

	funds, err := st.ListFunds(ctx)
	require.NoError(t, err)
	assert.Empty(t, funds)
}

// --- Crawl runs ---

func TestSQLite_CrawlRunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	run := &model.CrawlRun{
		ID:        "run-1",
		Trigger:   model.CrawlTriggerCLI,
		Status:    model.CrawlStatusRunning,
		StartedAt: started,
	}
	require.NoError(t, st.CreateCrawlRun(ctx, run))

	done := started.Add(2 * time.Minute)
	run.Status = model.CrawlStatusComplete
	run.PagesFetched = 3
	run.RecordsProcessed = 40
	run.RecordsFailed = 1
	run.ChartsStored = 200
	run.CompletedAt = &done
	require.NoError(t, st.CompleteCrawlRun(ctx, run))

	runs, err := st.ListCrawlRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, model.CrawlTriggerCLI, got.Trigger)
	assert.Equal(t, model.CrawlStatusComplete, got.Status)
	assert.Equal(t, 3, got.PagesFetched)
	assert.Equal(t, 40, got.RecordsProcessed)
	assert.Equal(t, 1, got.RecordsFailed)
	assert.Equal(t, 200, got.ChartsStored)
	assert.True(t, started.Equal(got.StartedAt))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
}

func TestSQLite_CompleteCrawlRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteCrawlRun(context.Background(), &model.CrawlRun{ID: "missing", Status: model.CrawlStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl run not found")
}

func TestSQLite_ListCrawlRuns_NewestFirstWithLimit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.CreateCrawlRun(ctx, &model.CrawlRun{
			ID:        id,
			Trigger:   model.CrawlTriggerSchedule,
			Status:    model.CrawlStatusRunning,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := st.ListCrawlRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Nil(t, runs[0].CompletedAt)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}
