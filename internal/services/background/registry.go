// Package background runs sync passes outside the foreground client, woken
// by tags registered in a shared directory.
package background

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
	syncsvc "github.com/TheMichaelB/pickupsync/internal/services/sync"
)

// Sync tags.
const (
	TagAll       = "sync-all"
	TagPickups   = "sync-pickups"
	TagBags      = "sync-bags"
	TagLocations = "sync-locations"
	TagProfile   = "sync-profile"
)

// ErrUnknownTag is returned for tags with no entity mapping.
var ErrUnknownTag = errors.New("unknown sync tag")

var tagEntities = map[string]syncsvc.Filter{
	TagAll:       nil,
	TagPickups:   {models.EntityPickupRequest},
	TagBags:      {models.EntityBag},
	TagLocations: {models.EntityLocation},
	TagProfile:   {models.EntityProfile, models.EntityPreferences},
}

// TagFilter returns the entity types a tag replays.
func TagFilter(tag string) (syncsvc.Filter, error) {
	f, ok := tagEntities[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return f, nil
}

const tmpSuffix = ".tmp"

// Registry stores pending tags as files in one directory. The foreground
// client registers; the worker consumes.
type Registry struct {
	dir    string
	logger *events.Logger
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(dir string, logger *events.Logger) *Registry {
	return &Registry{
		dir:    dir,
		logger: logger.WithField("component", "sync_registry"),
	}
}

// Dir returns the registry directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Register records tag. Registering a pending tag refreshes its timestamp.
func (r *Registry) Register(ctx context.Context, tag string) error {
	if _, err := TagFilter(tag); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	path := filepath.Join(r.dir, tag)
	tmp := path + tmpSuffix
	stamp := time.Now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(tmp, []byte(stamp), 0600); err != nil {
		return fmt.Errorf("write tag %s: %w", tag, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("register tag %s: %w", tag, err)
	}

	r.logger.WithField("tag", tag).Debug("Registered background sync")
	return nil
}

// Pending lists registered tags in name order.
func (r *Registry) Pending() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		if _, ok := tagEntities[e.Name()]; !ok {
			continue
		}
		tags = append(tags, e.Name())
	}
	sort.Strings(tags)
	return tags, nil
}

// Consume removes tag. A missing tag is not an error.
func (r *Registry) Consume(tag string) error {
	err := os.Remove(filepath.Join(r.dir, tag))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("consume tag %s: %w", tag, err)
	}
	return nil
}

// Watch calls fn for every tag already pending and then for each tag
// registered until ctx is done. fn runs on the watcher goroutine.
func (r *Registry) Watch(ctx context.Context, fn func(tag string)) error {
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}

	pending, err := r.Pending()
	if err != nil {
		return err
	}
	for _, tag := range pending {
		fn(tag)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			tag := filepath.Base(ev.Name)
			if strings.HasSuffix(tag, tmpSuffix) {
				continue
			}
			if _, ok := tagEntities[tag]; !ok {
				continue
			}
			fn(tag)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(err).Warn("Registry watcher error")
		}
	}
}
