package migrate

import (
	"context"

	"github.com/roach88/uow/internal/uow"
)

// HistoryCollection stores one History record per applied migration.
const HistoryCollection = "migration_history"

// History records an applied migration.
type History struct {
	uow.Base
	Number         int64   `json:"number"`
	Name           string  `json:"name"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// CollectionName implements uow.CollectionNamer.
func (*History) CollectionName() string { return HistoryCollection }

// Baseline returns the highest applied migration number, or 0 when none
// has been applied.
func Baseline(ctx context.Context, c *uow.Context) (int64, error) {
	for h, err := range uow.Query[*History](ctx, c, uow.SortBy("number", true), uow.Limit(1), uow.NoTracking()) {
		if err != nil {
			return 0, err
		}
		return h.Number, nil
	}
	return 0, nil
}

// Applied returns every history record in ascending number order.
func Applied(ctx context.Context, c *uow.Context) ([]*History, error) {
	var out []*History
	for h, err := range uow.Query[*History](ctx, c, uow.SortBy("number", false), uow.NoTracking()) {
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
