// Package reconcile writes one listing record and its chart set to the store.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/store"
)

// ErrNoID is returned when an insert does not yield a storage id.
var ErrNoID = eris.New("reconcile: insert returned no id")

// TxRunner runs a function inside one store transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx store.FundTx) error) error
}

// Reconciler upserts funds and replaces their chart rows.
type Reconciler struct {
	store TxRunner
}

// New creates a Reconciler backed by s.
func New(s TxRunner) *Reconciler {
	return &Reconciler{store: s}
}

// Reconcile inserts or updates fund and replaces its stored chart rows with
// embedded followed by detail, all stamped with the fund's id. Everything
// happens in one transaction: on error nothing for this fund is written.
// On success fund.ID is set and the id is returned.
func (r *Reconciler) Reconcile(ctx context.Context, fund *model.Fund, embedded, detail []model.ChartPoint) (int64, error) {
	log := zap.L().With(zap.String("fund_code", fund.Code))

	var (
		id       int64
		inserted bool
		replaced int64
	)
	err := r.store.WithTx(ctx, func(tx store.FundTx) error {
		existing, err := tx.FindFundByCode(ctx, fund.Code)
		if err != nil {
			return err
		}

		rec := *fund
		if existing == nil {
			rec.ID = nil
			if id, err = tx.InsertFund(ctx, &rec); err != nil {
				return err
			}
			if id <= 0 {
				return ErrNoID
			}
			inserted = true
		} else {
			id = *existing.ID
			rec.ID = &id
			if err := tx.UpdateFund(ctx, &rec); err != nil {
				return err
			}
			if replaced, err = tx.DeleteChartsByFundID(ctx, id); err != nil {
				return err
			}
		}

		charts := Merge(embedded, detail, id)
		if len(charts) == 0 {
			return nil
		}
		_, err = tx.InsertCharts(ctx, charts)
		return err
	})
	if err != nil {
		return 0, eris.Wrapf(err, "reconcile: fund %s", fund.Code)
	}

	fund.ID = &id
	log.Debug("reconcile: fund stored",
		zap.Int64("fund_id", id),
		zap.Bool("inserted", inserted),
		zap.Int64("charts_replaced", replaced),
		zap.Int("charts_stored", len(embedded)+len(detail)),
	)
	return id, nil
}

// Merge returns embedded followed by detail as a new slice, every point
// stamped with fundID. The inputs are not modified.
func Merge(embedded, detail []model.ChartPoint, fundID int64) []model.ChartPoint {
	merged := make([]model.ChartPoint, 0, len(embedded)+len(detail))
	merged = append(merged, embedded...)
	merged = append(merged, detail...)
	model.StampFundID(merged, fundID)
	return merged
}
