package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Pickups manages pickup requests.
type Pickups struct {
	c collection[models.PickupRequest, *models.PickupRequest]
}

// PickupPatch holds the fields an update may change.
type PickupPatch struct {
	LocationID   *string
	WasteType    *string
	BagCount     *int
	Status       *string
	ScheduledFor *time.Time
	Notes        *string
}

// PickupFilter narrows List. Empty fields match everything.
type PickupFilter struct {
	UserID string
	Status string
}

// NewPickups creates the pickup request repository.
func NewPickups(deps Deps) *Pickups {
	return &Pickups{c: newCollection[models.PickupRequest, *models.PickupRequest](deps, models.EntityPickupRequest)}
}

// Create stores a new pickup request for an existing location.
func (r *Pickups) Create(ctx context.Context, p *models.PickupRequest) (*models.PickupRequest, error) {
	r.c.stampNew(ctx, p)
	if p.Status == "" {
		p.Status = models.StatusPending
	}

	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		if err := r.checkLocation(ctx, tx, p.LocationID); err != nil {
			return err
		}
		return r.c.write(ctx, tx, p, models.ActionCreate)
	})
	if err != nil {
		return nil, fmt.Errorf("create pickup request: %w", err)
	}

	r.c.afterWrite(p, models.ActionCreate)
	return p, nil
}

// Update merges patch into an existing request.
func (r *Pickups) Update(ctx context.Context, id string, patch PickupPatch) (*models.PickupRequest, error) {
	var p *models.PickupRequest
	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		var err error
		if p, err = r.c.get(ctx, tx, id); err != nil {
			return err
		}

		if patch.LocationID != nil {
			if err := r.checkLocation(ctx, tx, *patch.LocationID); err != nil {
				return err
			}
			p.LocationID = *patch.LocationID
		}
		if patch.WasteType != nil {
			p.WasteType = *patch.WasteType
		}
		if patch.BagCount != nil {
			p.BagCount = *patch.BagCount
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		if patch.ScheduledFor != nil {
			t := patch.ScheduledFor.UTC()
			p.ScheduledFor = &t
		}
		if patch.Notes != nil {
			p.Notes = *patch.Notes
		}

		r.c.stampUpdate(p)
		return r.c.write(ctx, tx, p, models.ActionUpdate)
	})
	if err != nil {
		return nil, fmt.Errorf("update pickup request %s: %w", id, err)
	}

	r.c.afterWrite(p, models.ActionUpdate)
	return p, nil
}

// Cancel sets the request's status to cancelled. Completed requests cannot
// be cancelled.
func (r *Pickups) Cancel(ctx context.Context, id string) (*models.PickupRequest, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cancel pickup request %s: %w", id, err)
	}
	if p.Status == models.StatusCompleted {
		return nil, fmt.Errorf("cancel pickup request %s: %w: already completed", id, models.ErrInvalidRecord)
	}
	if p.Status == models.StatusCancelled {
		return p, nil
	}

	status := models.StatusCancelled
	return r.Update(ctx, id, PickupPatch{Status: &status})
}

// Get returns one request.
func (r *Pickups) Get(ctx context.Context, id string) (*models.PickupRequest, error) {
	return r.c.get(ctx, r.c.deps.Store, id)
}

// List returns matching requests, newest first.
func (r *Pickups) List(ctx context.Context, f PickupFilter) ([]*models.PickupRequest, error) {
	var (
		docs []store.Document
		err  error
	)
	if f.UserID != "" {
		docs, err = r.c.deps.Store.Query(ctx, r.c.name(), "user_id", f.UserID)
	} else {
		docs, err = r.c.deps.Store.All(ctx, r.c.name())
	}
	if err != nil {
		return nil, fmt.Errorf("list pickup requests: %w", err)
	}

	var out []*models.PickupRequest
	for _, d := range docs {
		p, err := r.c.decode(d)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Pickups) checkLocation(ctx context.Context, tx store.Reader, id string) error {
	if id == "" {
		return nil
	}
	doc, err := tx.Get(ctx, models.CollectionLocations, id)
	if err != nil {
		return fmt.Errorf("location %s: %w", id, err)
	}
	if doc.Deleted {
		return fmt.Errorf("location %s is deleted: %w", id, models.ErrNotFound)
	}
	return nil
}
