package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Bags manages scanned bag batches.
type Bags struct {
	c collection[models.BagScan, *models.BagScan]
}

// NewBags creates the bag scan repository.
func NewBags(deps Deps) *Bags {
	return &Bags{c: newCollection[models.BagScan, *models.BagScan](deps, models.EntityBag)}
}

// Register records a scanned batch. A batch code the user already scanned is
// rejected with models.ErrDuplicateScan.
func (r *Bags) Register(ctx context.Context, scan *models.BagScan) (*models.BagScan, error) {
	scan.BatchCode = strings.TrimSpace(scan.BatchCode)
	if scan.Quantity == 0 {
		scan.Quantity = 1
	}
	r.c.stampNew(ctx, scan)
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = scan.CreatedAt
	}

	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		existing, err := r.findByBatch(ctx, tx, scan.UserID, scan.BatchCode)
		if err == nil {
			return fmt.Errorf("batch %s scanned at %s: %w",
				scan.BatchCode, existing.ScannedAt.Format("2006-01-02 15:04"), models.ErrDuplicateScan)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		return r.c.write(ctx, tx, scan, models.ActionCreate)
	})
	if err != nil {
		return nil, fmt.Errorf("register bag: %w", err)
	}

	r.c.afterWrite(scan, models.ActionCreate)
	return scan, nil
}

// List returns the user's scans, most recent first.
func (r *Bags) List(ctx context.Context, userID string) ([]*models.BagScan, error) {
	scans, err := r.c.forUser(ctx, r.c.deps.Store, userID)
	if err != nil {
		return nil, fmt.Errorf("list bags: %w", err)
	}

	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].ScannedAt.After(scans[j].ScannedAt)
	})
	return scans, nil
}

// FindByBatch returns the user's scan of a batch code or models.ErrNotFound.
func (r *Bags) FindByBatch(ctx context.Context, userID, batchCode string) (*models.BagScan, error) {
	return r.findByBatch(ctx, r.c.deps.Store, userID, strings.TrimSpace(batchCode))
}

func (r *Bags) findByBatch(ctx context.Context, rd store.Reader, userID, batchCode string) (*models.BagScan, error) {
	scans, err := r.c.forUser(ctx, rd, userID)
	if err != nil {
		return nil, err
	}
	for _, s := range scans {
		if strings.EqualFold(s.BatchCode, batchCode) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("batch %s: %w", batchCode, models.ErrNotFound)
}
