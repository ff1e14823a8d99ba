package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fund-crawler/internal/db"
	"github.com/sells-group/fund-crawler/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx FundTx) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgFundTx{q: tx})
	})
}

const fundColumns = `id, fund_cd, external_id, fund_nm, type_nm, company_nm, risk_grade, setup_ymd,
	nav, total_assets, return_1m, return_3m, return_6m, return_12m, created_at, updated_at`

func (s *PostgresStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fundColumns+` FROM funds ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list funds")
	}
	return collectFunds(rows)
}

func (s *PostgresStore) SearchFunds(ctx context.Context, keyword string) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundColumns+` FROM funds
		 WHERE fund_nm ILIKE '%' || $1 || '%' ESCAPE '\'
		    OR fund_cd ILIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY fund_nm`,
		escapeLike(keyword),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: search funds %q", keyword)
	}
	return collectFunds(rows)
}

func (s *PostgresStore) ListCharts(ctx context.Context, fundCode string) ([]model.ChartPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.fund_id, c.gijun_ymd, c.category, c.evaluation_amount, c.weight, c.return_rate, c.source
		 FROM fund_charts c JOIN funds f ON f.id = c.fund_id
		 WHERE f.fund_cd = $1
		 ORDER BY c.seq`,
		fundCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list charts for %s", fundCode)
	}
	defer rows.Close()

	var out []model.ChartPoint
	for rows.Next() {
		var (
			c      model.ChartPoint
			fundID int64
			source string
		)
		if err := rows.Scan(&c.ID, &fundID, &c.AsOfDate, &c.Category, &c.EvaluationAmount, &c.Weight, &c.ReturnRate, &source); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chart")
		}
		c.FundID = &fundID
		c.Source = model.ChartSource(source)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate charts")
}

func (s *PostgresStore) CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, trigger, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt,
	)
	return eris.Wrapf(err, "postgres: create crawl run %s", run.ID)
}

func (s *PostgresStore) CompleteCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET status = $1, pages_fetched = $2, records_processed = $3,
			records_failed = $4, charts_stored = $5, error = $6, completed_at = $7
		 WHERE id = $8`,
		string(run.Status), run.PagesFetched, run.RecordsProcessed,
		run.RecordsFailed, run.ChartsStored, run.Error, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete crawl run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: crawl run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListCrawlRuns(ctx context.Context, limit int) ([]model.CrawlRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, trigger, status, pages_fetched, records_processed, records_failed,
			charts_stored, error, started_at, completed_at
		 FROM crawl_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crawl runs")
	}
	defer rows.Close()

	var out []model.CrawlRun
	for rows.Next() {
		var (
			r               model.CrawlRun
			trigger, status string
		)
		if err := rows.Scan(&r.ID, &trigger, &status, &r.PagesFetched, &r.RecordsProcessed,
			&r.RecordsFailed, &r.ChartsStored, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl run")
		}
		r.Trigger = model.CrawlTrigger(trigger)
		r.Status = model.CrawlStatus(status)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate crawl runs")
}

// pgFundTx implements FundTx on a pgx transaction.
type pgFundTx struct {
	q db.Querier
}

func (t *pgFundTx) FindFundByCode(ctx context.Context, code string) (*model.Fund, error) {
	row := t.q.QueryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE fund_cd = $1`, code)
	f, err := scanFund(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find fund %s", code)
	}
	return f, nil
}

func (t *pgFundTx) InsertFund(ctx context.Context, f *model.Fund) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO funds (fund_cd, external_id, fund_nm, type_nm, company_nm, risk_grade, setup_ymd,
			nav, total_assets, return_1m, return_3m, return_6m, return_12m)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		f.Code, f.ExternalID, f.Name, f.TypeName, f.Company, f.RiskGrade, f.SetupDate,
		f.NAV, f.TotalAssets, f.Return1M, f.Return3M, f.Return6M, f.Return12M,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert fund %s", f.Code)
	}
	return id, nil
}

func (t *pgFundTx) UpdateFund(ctx context.Context, f *model.Fund) error {
	if f.ID == nil {
		return eris.Errorf("postgres: update fund %s: missing id", f.Code)
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE funds SET external_id = $1, fund_nm = $2, type_nm = $3, company_nm = $4,
			risk_grade = $5, setup_ymd = $6, nav = $7, total_assets = $8, return_1m = $9,
			return_3m = $10, return_6m = $11, return_12m = $12, updated_at = now()
		 WHERE id = $13`,
		f.ExternalID, f.Name, f.TypeName, f.Company, f.RiskGrade, f.SetupDate,
		f.NAV, f.TotalAssets, f.Return1M, f.Return3M, f.Return6M, f.Return12M, *f.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update fund %s", f.Code)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: fund not found: %d", *f.ID)
	}
	return nil
}

func (t *pgFundTx) DeleteChartsByFundID(ctx context.Context, fundID int64) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM fund_charts WHERE fund_id = $1`, fundID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete charts for fund %d", fundID)
	}
	return tag.RowsAffected(), nil
}

func (t *pgFundTx) InsertCharts(ctx context.Context, charts []model.ChartPoint) (int64, error) {
	rows, err := chartRows(charts)
	if err != nil {
		return 0, err
	}
	return db.CopyFrom(ctx, t.q, "fund_charts", chartColumns, rows)
}

// chartRows converts points to COPY rows in chartColumns order.
func chartRows(charts []model.ChartPoint) ([][]any, error) {
	rows := make([][]any, 0, len(charts))
	for i, c := range charts {
		if c.FundID == nil {
			return nil, eris.Errorf("store: chart %d (%s) has no fund id", i, c.Category)
		}
		rows = append(rows, []any{
			*c.FundID, c.AsOfDate, c.Category, c.EvaluationAmount, c.Weight, c.ReturnRate, string(c.Source), i,
		})
	}
	return rows, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFund(row scannable) (*model.Fund, error) {
	var (
		f          model.Fund
		id         int64
		externalID *string
	)
	if err := row.Scan(&id, &f.Code, &externalID, &f.Name, &f.TypeName, &f.Company, &f.RiskGrade,
		&f.SetupDate, &f.NAV, &f.TotalAssets, &f.Return1M, &f.Return3M, &f.Return6M, &f.Return12M,
		&f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.ID = &id
	if externalID != nil {
		f.ExternalID = *externalID
	}
	return &f, nil
}

func collectFunds(rows pgx.Rows) ([]model.Fund, error) {
	defer rows.Close()

	var out []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fund")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate funds")
}
