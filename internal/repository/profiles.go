package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	"github.com/TheMichaelB/pickupsync/internal/store"
)

// Profiles manages the user's profile, keyed by user id.
type Profiles struct {
	c collection[models.Profile, *models.Profile]
}

// NewProfiles creates the profile repository.
func NewProfiles(deps Deps) *Profiles {
	return &Profiles{c: newCollection[models.Profile, *models.Profile](deps, models.EntityProfile)}
}

// Save creates or replaces the user's profile.
func (r *Profiles) Save(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if err := upsert(ctx, r.c, p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// Get returns the user's profile.
func (r *Profiles) Get(ctx context.Context, userID string) (*models.Profile, error) {
	return r.c.get(ctx, r.c.deps.Store, userID)
}

// PreferencesRepo manages notification preferences, keyed by user id.
type PreferencesRepo struct {
	c collection[models.Preferences, *models.Preferences]
}

// NewPreferences creates the preferences repository.
func NewPreferences(deps Deps) *PreferencesRepo {
	return &PreferencesRepo{c: newCollection[models.Preferences, *models.Preferences](deps, models.EntityPreferences)}
}

// Save creates or replaces the user's preferences.
func (r *PreferencesRepo) Save(ctx context.Context, p *models.Preferences) (*models.Preferences, error) {
	if err := upsert(ctx, r.c, p); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return p, nil
}

// Get returns the user's preferences.
func (r *PreferencesRepo) Get(ctx context.Context, userID string) (*models.Preferences, error) {
	return r.c.get(ctx, r.c.deps.Store, userID)
}

// upsert writes a per-user singleton record whose id is the user id.
func upsert[T any, P interface {
	*T
	models.Entity
}](ctx context.Context, c collection[T, P], rec P) error {
	m := rec.Metadata()
	if m.UserID == "" {
		m.UserID = events.GetUserID(ctx)
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: user_id is required", models.ErrInvalidRecord)
	}
	m.ID = m.UserID

	action := models.ActionUpdate
	err := c.deps.Store.Update(ctx, func(tx store.Tx) error {
		existing, err := c.get(ctx, tx, m.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			action = models.ActionCreate
			c.stampNew(ctx, rec)
		case err != nil:
			return err
		default:
			m.CreatedAt = existing.Metadata().CreatedAt
			c.stampUpdate(rec)
		}
		return c.write(ctx, tx, rec, action)
	})
	if err != nil {
		return err
	}

	c.afterWrite(rec, action)
	return nil
}
