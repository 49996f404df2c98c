package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Locations manages saved pickup addresses.
type Locations struct {
	c collection[models.Location, *models.Location]
}

// LocationPatch holds the fields an update may change.
type LocationPatch struct {
	Name      *string
	Address   *string
	Latitude  *float64
	Longitude *float64
}

// NewLocations creates the locations repository.
func NewLocations(deps Deps) *Locations {
	return &Locations{c: newCollection[models.Location, *models.Location](deps, models.EntityLocation)}
}

// Create stores a new location. A location created as default clears the
// flag on the user's other locations.
func (r *Locations) Create(ctx context.Context, loc *models.Location) (*models.Location, error) {
	r.c.stampNew(ctx, loc)
	loc.Deleted = false

	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		if loc.IsDefault {
			if err := r.clearDefaults(ctx, tx, loc.UserID, loc.ID); err != nil {
				return err
			}
		}
		return r.c.write(ctx, tx, loc, models.ActionCreate)
	})
	if err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}

	r.c.afterWrite(loc, models.ActionCreate)
	return loc, nil
}

// Update merges patch into an existing location.
func (r *Locations) Update(ctx context.Context, id string, patch LocationPatch) (*models.Location, error) {
	var loc *models.Location
	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		var err error
		if loc, err = r.live(ctx, tx, id); err != nil {
			return err
		}

		if patch.Name != nil {
			loc.Name = *patch.Name
		}
		if patch.Address != nil {
			loc.Address = *patch.Address
		}
		if patch.Latitude != nil {
			loc.Latitude = *patch.Latitude
		}
		if patch.Longitude != nil {
			loc.Longitude = *patch.Longitude
		}

		r.c.stampUpdate(loc)
		return r.c.write(ctx, tx, loc, models.ActionUpdate)
	})
	if err != nil {
		return nil, fmt.Errorf("update location %s: %w", id, err)
	}

	r.c.afterWrite(loc, models.ActionUpdate)
	return loc, nil
}

// Delete marks a location deleted. It stays in the store until the remote
// delete is confirmed.
func (r *Locations) Delete(ctx context.Context, id string) error {
	var loc *models.Location
	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		var err error
		if loc, err = r.live(ctx, tx, id); err != nil {
			return err
		}

		loc.Deleted = true
		loc.IsDefault = false
		r.c.stampUpdate(loc)
		return r.c.write(ctx, tx, loc, models.ActionDelete)
	})
	if err != nil {
		return fmt.Errorf("delete location %s: %w", id, err)
	}

	r.c.afterWrite(loc, models.ActionDelete)
	return nil
}

// SetDefault makes id the user's only default location. Every sibling is
// rewritten in the same transaction.
func (r *Locations) SetDefault(ctx context.Context, userID, id string) (*models.Location, error) {
	var target *models.Location
	err := r.c.deps.Store.Update(ctx, func(tx store.Tx) error {
		var err error
		if target, err = r.live(ctx, tx, id); err != nil {
			return err
		}
		if target.UserID != userID {
			return fmt.Errorf("location %s: %w", id, models.ErrNotFound)
		}

		if err := r.clearDefaults(ctx, tx, userID, id); err != nil {
			return err
		}

		target.IsDefault = true
		r.c.stampUpdate(target)
		return r.c.write(ctx, tx, target, models.ActionSetDefault)
	})
	if err != nil {
		return nil, fmt.Errorf("set default location %s: %w", id, err)
	}

	r.c.afterWrite(target, models.ActionSetDefault)
	return target, nil
}

// clearDefaults unsets is_default on every other location of the user. The
// server applies the same rule when it receives the default change, so the
// siblings keep their sync state.
func (r *Locations) clearDefaults(ctx context.Context, tx store.Tx, userID, keepID string) error {
	siblings, err := r.c.forUser(ctx, tx, userID)
	if err != nil {
		return err
	}

	for _, s := range siblings {
		if s.ID == keepID || !s.IsDefault {
			continue
		}
		s.IsDefault = false

		doc, err := store.NewDocument(s)
		if err != nil {
			return err
		}
		if err := tx.Put(ctx, r.c.name(), doc); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one location, deleted or not.
func (r *Locations) Get(ctx context.Context, id string) (*models.Location, error) {
	return r.c.get(ctx, r.c.deps.Store, id)
}

// ListForUser returns the user's live locations, default first, then by name.
func (r *Locations) ListForUser(ctx context.Context, userID string) ([]*models.Location, error) {
	all, err := r.c.forUser(ctx, r.c.deps.Store, userID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}

	out := all[:0]
	for _, l := range all {
		if !l.Deleted {
			out = append(out, l)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (r *Locations) live(ctx context.Context, tx store.Reader, id string) (*models.Location, error) {
	loc, err := r.c.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if loc.Deleted {
		return nil, fmt.Errorf("location %s is deleted: %w", id, models.ErrNotFound)
	}
	return loc, nil
}
