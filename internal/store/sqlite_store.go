package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/TheMichaelB/pickupsync/internal/events"
	"github.com/TheMichaelB/pickupsync/internal/models"
)

// SQLiteStore implements Store on a SQLite file.
type SQLiteStore struct {
	sqlTx
	db      *sql.DB
	logger  *events.Logger
	version int
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open opens or creates the database and applies pending migrations.
func Open(ctx context.Context, opts Options, logger *events.Logger) (*SQLiteStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver != "sqlite3" && driver != "sqlite" {
		return nil, fmt.Errorf("%w: unsupported driver %q", models.ErrStorageUnavailable, driver)
	}

	db, err := sql.Open(driver, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w: %w", models.ErrStorageUnavailable, err)
	}

	// One connection serializes writers in this process. Other processes
	// wait on busy_timeout.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w: %w", p, models.ErrStorageUnavailable, err)
		}
	}

	s := &SQLiteStore{
		sqlTx:  sqlTx{q: db},
		db:     db,
		logger: logger.WithField("component", "sqlite_store").WithField("driver", driver),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_info (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_info: %w: %w", models.ErrStorageUnavailable, err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_info`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w: %w", models.ErrStorageUnavailable, err)
	}
	s.version = int(current.Int64)

	if s.version > SchemaVersion {
		return fmt.Errorf("%w: database schema version %d is newer than supported version %d",
			models.ErrStorageUnavailable, s.version, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= s.version {
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"from": s.version,
			"to":   m.version,
		}).Info("Migrating schema")

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w: %w", m.version, models.ErrStorageUnavailable, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		s.version = m.version
	}

	return nil
}

// Update runs fn in a database transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
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

	if err = fn(sqlTx{q: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// QueueEntries returns the queue in insertion order.
func (s *SQLiteStore) QueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, entity_type, action, record_id, data, timestamp, attempts, last_error
        FROM sync_queue
        ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var (
			e    models.QueueEntry
			data string
			ts   string
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.Action, &e.RecordID, &data, &ts, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		e.Data = []byte(data)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("queue entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// MarkAttempt records a failed replay.
func (s *SQLiteStore) MarkAttempt(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark attempt %d: %w", id, err)
	}
	return nil
}

// QueueLength counts queued entries.
func (s *SQLiteStore) QueueLength(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// CountUnsynced counts documents not yet confirmed remotely.
func (s *SQLiteStore) CountUnsynced(ctx context.Context, collection string) (int, error) {
	if _, err := lookupCollection(collection); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE synced = 0`, collection)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced %s: %w", collection, err)
	}
	return n, nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStore) SchemaVersion() int {
	return s.version
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlTx implements Tx on either the database or an open transaction.
type sqlTx struct {
	q querier
}

func (t sqlTx) Get(ctx context.Context, collection, id string) (Document, error) {
	if _, err := lookupCollection(collection); err != nil {
		return Document{}, err
	}

	row := t.q.QueryRowContext(ctx, fmt.Sprintf(`
        SELECT id, user_id, synced, deleted, created_at, updated_at, body
        FROM %s WHERE id = ?`, collection), id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s %s: %w", collection, id, models.ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	return doc, nil
}

func (t sqlTx) All(ctx context.Context, collection string) ([]Document, error) {
	if _, err := lookupCollection(collection); err != nil {
		return nil, err
	}

	rows, err := t.q.QueryContext(ctx, fmt.Sprintf(`
        SELECT id, user_id, synced, deleted, created_at, updated_at, body
        FROM %s ORDER BY created_at, id`, collection))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return scanDocuments(rows)
}

func (t sqlTx) Query(ctx context.Context, collection, index string, value interface{}) ([]Document, error) {
	c, err := lookupCollection(collection)
	if err != nil {
		return nil, err
	}
	if !c.hasIndex(index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}

	if b, ok := value.(bool); ok {
		value = boolInt(b)
	}

	rows, err := t.q.QueryContext(ctx, fmt.Sprintf(`
        SELECT id, user_id, synced, deleted, created_at, updated_at, body
        FROM %s WHERE %s = ? ORDER BY created_at, id`, collection, index), value)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, index, err)
	}
	return scanDocuments(rows)
}

func (t sqlTx) Put(ctx context.Context, collection string, doc Document) error {
	if _, err := lookupCollection(collection); err != nil {
		return err
	}

	_, err := t.q.ExecContext(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, user_id, synced, deleted, created_at, updated_at, body)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            user_id = excluded.user_id,
            synced = excluded.synced,
            deleted = excluded.deleted,
            created_at = excluded.created_at,
            updated_at = excluded.updated_at,
            body = excluded.body
    `, collection),
		doc.ID, doc.UserID, boolInt(doc.Synced), boolInt(doc.Deleted),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), string(doc.Body))
	if err != nil {
		return fmt.Errorf("put %s %s: %w", collection, doc.ID, err)
	}
	return nil
}

func (t sqlTx) Delete(ctx context.Context, collection, id string) error {
	if _, err := lookupCollection(collection); err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection), id); err != nil {
		return fmt.Errorf("delete %s %s: %w", collection, id, err)
	}
	return nil
}

func (t sqlTx) Enqueue(ctx context.Context, entry models.QueueEntry) (int64, error) {
	res, err := t.q.ExecContext(ctx, `
        INSERT INTO sync_queue (entity_type, action, record_id, data, timestamp, attempts, last_error)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, string(entry.EntityType), string(entry.Action), entry.RecordID, string(entry.Data),
		formatTime(entry.Timestamp), entry.Attempts, entry.LastError)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s %s: %w", entry.EntityType, entry.Action, err)
	}
	return res.LastInsertId()
}

func (t sqlTx) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queue entry %d: %w", id, err)
	}
	return nil
}

func (t sqlTx) RewriteRecordID(ctx context.Context, entityType models.EntityType, oldID, newID string) (int, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT id, data FROM sync_queue WHERE entity_type = ? AND record_id = ?`, string(entityType), oldID)
	if err != nil {
		return 0, fmt.Errorf("query entries for %s: %w", oldID, err)
	}

	type pending struct {
		id   int64
		data string
	}
	var found []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan queue row: %w", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, p := range found {
		data, err := rewriteDataID(p.data, newID)
		if err != nil {
			return 0, fmt.Errorf("queue entry %d: %w", p.id, err)
		}
		if _, err := t.q.ExecContext(ctx,
			`UPDATE sync_queue SET record_id = ?, data = ? WHERE id = ?`, newID, data, p.id); err != nil {
			return 0, fmt.Errorf("rewrite queue entry %d: %w", p.id, err)
		}
	}

	return len(found), nil
}

func (t sqlTx) RewriteReference(ctx context.Context, entityType models.EntityType, field, oldID, newID string) (int, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT id, data FROM sync_queue WHERE entity_type = ?`, string(entityType))
	if err != nil {
		return 0, fmt.Errorf("query %s entries: %w", entityType, err)
	}

	type change struct {
		id   int64
		data string
	}
	var changes []change
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan queue row: %w", err)
		}
		out, changed, err := rewriteField(data, field, oldID, newID)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("queue entry %d: %w", id, err)
		}
		if changed {
			changes = append(changes, change{id: id, data: out})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, c := range changes {
		if _, err := t.q.ExecContext(ctx, `UPDATE sync_queue SET data = ? WHERE id = ?`, c.data, c.id); err != nil {
			return 0, fmt.Errorf("rewrite queue entry %d: %w", c.id, err)
		}
	}
	return len(changes), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc              Document
		synced, deleted  int
		created, updated string
		body             string
	)
	if err := row.Scan(&doc.ID, &doc.UserID, &synced, &deleted, &created, &updated, &body); err != nil {
		return Document{}, err
	}

	var err error
	if doc.CreatedAt, err = parseTime(created); err != nil {
		return Document{}, err
	}
	if doc.UpdatedAt, err = parseTime(updated); err != nil {
		return Document{}, err
	}
	doc.Synced = synced != 0
	doc.Deleted = deleted != 0
	doc.Body = []byte(body)
	return doc, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
