package store

import (
	"fmt"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

// SchemaVersion is the schema both the foreground client and the background
// worker expect. Bump it together with a new entry in migrations.
const SchemaVersion = 3

// Collection declares a record collection and its secondary indexes.
type Collection struct {
	Name    string
	Indexes []string
	// Since is the schema version that introduced the collection.
	Since int
}

// Schema lists the record collections. The sync queue is managed separately.
var Schema = []Collection{
	{Name: models.CollectionLocations, Indexes: []string{"synced", "user_id"}, Since: 1},
	{Name: models.CollectionPickupRequests, Indexes: []string{"synced", "user_id"}, Since: 1},
	{Name: models.CollectionBagScans, Indexes: []string{"synced", "user_id"}, Since: 1},
	{Name: models.CollectionProfiles, Indexes: []string{"synced", "user_id"}, Since: 2},
	{Name: models.CollectionPreferences, Indexes: []string{"synced", "user_id"}, Since: 2},
}

func lookupCollection(name string) (Collection, error) {
	for _, c := range Schema {
		if c.Name == name {
			return c, nil
		}
	}
	return Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}

func (c Collection) hasIndex(index string) bool {
	for _, i := range c.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

type migration struct {
	version int
	stmts   []string
}

// migrations are append-only. Each runs once, in its own transaction.
var migrations = []migration{
	{
		version: 1,
		stmts: append(collectionDDL(1), `
        CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_type TEXT NOT NULL,
            action TEXT NOT NULL,
            record_id TEXT NOT NULL,
            data TEXT NOT NULL,
            timestamp TEXT NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0
        )`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity_type ON sync_queue(entity_type)`),
	},
	{
		version: 2,
		stmts:   collectionDDL(2),
	},
	{
		version: 3,
		stmts: []string{
			`ALTER TABLE sync_queue ADD COLUMN last_error TEXT NOT NULL DEFAULT ''`,
		},
	},
}

func collectionDDL(version int) []string {
	var stmts []string
	for _, c := range Schema {
		if c.Since != version {
			continue
		}
		stmts = append(stmts, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL DEFAULT '',
            synced INTEGER NOT NULL DEFAULT 0,
            deleted INTEGER NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            body TEXT NOT NULL
        )`, c.Name))
		for _, idx := range c.Indexes {
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", c.Name, idx, c.Name, idx))
		}
	}
	return stmts
}
