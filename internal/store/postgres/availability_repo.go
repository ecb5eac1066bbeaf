package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"michael/backend/internal/domain"
)

type AvailabilityRepo struct {
	db *bun.DB
}

func NewAvailabilityRepo(db *bun.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) ListHostAvailability(ctx context.Context) ([]domain.HostAvailabilitySlot, error) {
	var rows []domain.HostAvailabilitySlot
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("weekday ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceHostAvailability swaps the whole weekly rule set in one transaction;
// the host edits availability as a unit, not rule by rule.
func (r *AvailabilityRepo) ReplaceHostAvailability(ctx context.Context, slots []domain.HostAvailabilitySlot) error {
	for _, s := range slots {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*domain.HostAvailabilitySlot)(nil)).
			Where("TRUE").
			Exec(ctx); err != nil {
			return err
		}
		if len(slots) == 0 {
			return nil
		}
		rows := make([]domain.HostAvailabilitySlot, len(slots))
		copy(rows, slots)
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
}
