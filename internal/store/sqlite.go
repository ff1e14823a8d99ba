package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fund-crawler/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// Fixed-width layouts keep TEXT columns sortable.
const (
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	sqliteDateLayout = "2006-01-02"
)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the per-connection pragmas in force and
	// serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funds (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	fund_cd      TEXT NOT NULL UNIQUE,
	external_id  TEXT,
	fund_nm      TEXT NOT NULL DEFAULT '',
	type_nm      TEXT NOT NULL DEFAULT '',
	company_nm   TEXT NOT NULL DEFAULT '',
	risk_grade   TEXT NOT NULL DEFAULT '',
	setup_ymd    TEXT NOT NULL DEFAULT '',
	nav          REAL NOT NULL DEFAULT 0,
	total_assets REAL NOT NULL DEFAULT 0,
	return_1m    REAL NOT NULL DEFAULT 0,
	return_3m    REAL NOT NULL DEFAULT 0,
	return_6m    REAL NOT NULL DEFAULT 0,
	return_12m   REAL NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_funds_fund_nm ON funds(fund_nm);

CREATE TABLE IF NOT EXISTS fund_charts (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	fund_id           INTEGER NOT NULL REFERENCES funds(id) ON DELETE CASCADE,
	gijun_ymd         TEXT,
	category          TEXT NOT NULL DEFAULT '',
	evaluation_amount REAL NOT NULL DEFAULT 0,
	weight            REAL NOT NULL DEFAULT 0,
	return_rate       REAL,
	source            TEXT NOT NULL,
	seq               INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fund_charts_fund_id ON fund_charts(fund_id, seq);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id                TEXT PRIMARY KEY,
	trigger           TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	pages_fetched     INTEGER NOT NULL DEFAULT 0,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_failed    INTEGER NOT NULL DEFAULT 0,
	charts_stored     INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT '',
	started_at        TEXT NOT NULL,
	completed_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx FundTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteFundTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit tx")
	}
	return nil
}

const sqliteFundColumns = `id, fund_cd, external_id, fund_nm, type_nm, company_nm, risk_grade, setup_ymd,
	nav, total_assets, return_1m, return_3m, return_6m, return_12m, created_at, updated_at`

func (s *SQLiteStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteFundColumns+` FROM funds ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list funds")
	}
	return collectSQLiteFunds(rows)
}

func (s *SQLiteStore) SearchFunds(ctx context.Context, keyword string) ([]model.Fund, error) {
	pattern := escapeLike(keyword)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteFundColumns+` FROM funds
		 WHERE fund_nm LIKE '%' || ? || '%' ESCAPE '\'
		    OR fund_cd LIKE '%' || ? || '%' ESCAPE '\'
		 ORDER BY fund_nm`,
		pattern, pattern,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: search funds %q", keyword)
	}
	return collectSQLiteFunds(rows)
}

func (s *SQLiteStore) ListCharts(ctx context.Context, fundCode string) ([]model.ChartPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.fund_id, c.gijun_ymd, c.category, c.evaluation_amount, c.weight, c.return_rate, c.source
		 FROM fund_charts c JOIN funds f ON f.id = c.fund_id
		 WHERE f.fund_cd = ?
		 ORDER BY c.seq`,
		fundCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list charts for %s", fundCode)
	}
	defer rows.Close()

	var out []model.ChartPoint
	for rows.Next() {
		var (
			c          model.ChartPoint
			fundID     int64
			asOf       sql.NullString
			returnRate sql.NullFloat64
			source     string
		)
		if err := rows.Scan(&c.ID, &fundID, &asOf, &c.Category, &c.EvaluationAmount, &c.Weight, &returnRate, &source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chart")
		}
		c.FundID = &fundID
		c.Source = model.ChartSource(source)
		if asOf.Valid {
			t, err := time.Parse(sqliteDateLayout, asOf.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse gijun_ymd %q", asOf.String)
			}
			c.AsOfDate = &t
		}
		if returnRate.Valid {
			v := returnRate.Float64
			c.ReturnRate = &v
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate charts")
}

func (s *SQLiteStore) CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, trigger, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt.UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: create crawl run %s", run.ID)
}

func (s *SQLiteStore) CompleteCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	var completedAt *string
	if run.CompletedAt != nil {
		v := run.CompletedAt.UTC().Format(sqliteTimeLayout)
		completedAt = &v
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET status = ?, pages_fetched = ?, records_processed = ?,
			records_failed = ?, charts_stored = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.Status), run.PagesFetched, run.RecordsProcessed,
		run.RecordsFailed, run.ChartsStored, run.Error, completedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete crawl run %s", run.ID)
	}
	return checkRowsAffected(res, "crawl run", run.ID)
}

func (s *SQLiteStore) ListCrawlRuns(ctx context.Context, limit int) ([]model.CrawlRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger, status, pages_fetched, records_processed, records_failed,
			charts_stored, error, started_at, completed_at
		 FROM crawl_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crawl runs")
	}
	defer rows.Close()

	var out []model.CrawlRun
	for rows.Next() {
		var (
			r                          model.CrawlRun
			trigger, status, startedAt string
			completedAt                sql.NullString
		)
		if err := rows.Scan(&r.ID, &trigger, &status, &r.PagesFetched, &r.RecordsProcessed,
			&r.RecordsFailed, &r.ChartsStored, &r.Error, &startedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crawl run")
		}
		r.Trigger = model.CrawlTrigger(trigger)
		r.Status = model.CrawlStatus(status)
		if r.StartedAt, err = time.Parse(sqliteTimeLayout, startedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse started_at")
		}
		if completedAt.Valid {
			t, err := time.Parse(sqliteTimeLayout, completedAt.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse completed_at")
			}
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate crawl runs")
}

// sqliteFundTx implements FundTx on a database/sql transaction.
type sqliteFundTx struct {
	tx *sql.Tx
}

func (t *sqliteFundTx) FindFundByCode(ctx context.Context, code string) (*model.Fund, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+sqliteFundColumns+` FROM funds WHERE fund_cd = ?`, code)
	f, err := scanSQLiteFund(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find fund %s", code)
	}
	return f, nil
}

func (t *sqliteFundTx) InsertFund(ctx context.Context, f *model.Fund) (int64, error) {
	now := time.Now().UTC().Format(sqliteTimeLayout)
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO funds (fund_cd, external_id, fund_nm, type_nm, company_nm, risk_grade, setup_ymd,
			nav, total_assets, return_1m, return_3m, return_6m, return_12m, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		f.Code, f.ExternalID, f.Name, f.TypeName, f.Company, f.RiskGrade, f.SetupDate,
		f.NAV, f.TotalAssets, f.Return1M, f.Return3M, f.Return6M, f.Return12M, now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert fund %s", f.Code)
	}
	return id, nil
}

func (t *sqliteFundTx) UpdateFund(ctx context.Context, f *model.Fund) error {
	if f.ID == nil {
		return eris.Errorf("sqlite: update fund %s: missing id", f.Code)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE funds SET external_id = ?, fund_nm = ?, type_nm = ?, company_nm = ?,
			risk_grade = ?, setup_ymd = ?, nav = ?, total_assets = ?, return_1m = ?,
			return_3m = ?, return_6m = ?, return_12m = ?, updated_at = ?
		 WHERE id = ?`,
		f.ExternalID, f.Name, f.TypeName, f.Company, f.RiskGrade, f.SetupDate,
		f.NAV, f.TotalAssets, f.Return1M, f.Return3M, f.Return6M, f.Return12M,
		time.Now().UTC().Format(sqliteTimeLayout), *f.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update fund %s", f.Code)
	}
	return checkRowsAffected(res, "fund", f.Code)
}

func (t *sqliteFundTx) DeleteChartsByFundID(ctx context.Context, fundID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM fund_charts WHERE fund_id = ?`, fundID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete charts for fund %d", fundID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func (t *sqliteFundTx) InsertCharts(ctx context.Context, charts []model.ChartPoint) (int64, error) {
	if len(charts) == 0 {
		return 0, nil
	}
	rows, err := chartRows(charts)
	if err != nil {
		return 0, err
	}

	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO fund_charts (fund_id, gijun_ymd, category, evaluation_amount, weight, return_rate, source, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare chart insert")
	}
	defer stmt.Close()

	var n int64
	for _, row := range rows {
		// gijun_ymd is stored as a plain date string.
		if asOf, ok := row[1].(*time.Time); ok {
			if asOf == nil {
				row[1] = nil
			} else {
				row[1] = asOf.Format(sqliteDateLayout)
			}
		}
		if rr, ok := row[5].(*float64); ok && rr == nil {
			row[5] = nil
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return n, eris.Wrap(err, "sqlite: insert chart")
		}
		n++
	}
	return n, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanSQLiteFund(row scannable) (*model.Fund, error) {
	var (
		f                    model.Fund
		id                   int64
		externalID           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &f.Code, &externalID, &f.Name, &f.TypeName, &f.Company, &f.RiskGrade,
		&f.SetupDate, &f.NAV, &f.TotalAssets, &f.Return1M, &f.Return3M, &f.Return6M, &f.Return12M,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.ID = &id
	f.ExternalID = externalID.String
	f.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	f.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
	return &f, nil
}

func collectSQLiteFunds(rows *sql.Rows) ([]model.Fund, error) {
	defer rows.Close()

	var out []model.Fund
	for rows.Next() {
		f, err := scanSQLiteFund(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fund")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate funds")
}
