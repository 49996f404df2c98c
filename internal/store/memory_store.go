package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TheMichaelB/pickupsync/internal/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	docs   map[string]map[string]Document
	queue  []models.QueueEntry
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	st := &memState{docs: make(map[string]map[string]Document), nextID: 1}
	for _, c := range Schema {
		st.docs[c.Name] = make(map[string]Document)
	}
	return &MemoryStore{state: st}
}

func (s *memState) clone() *memState {
	c := &memState{
		docs:   make(map[string]map[string]Document, len(s.docs)),
		queue:  append([]models.QueueEntry(nil), s.queue...),
		nextID: s.nextID,
	}
	for name, docs := range s.docs {
		m := make(map[string]Document, len(docs))
		for id, d := range docs {
			m[id] = d
		}
		c.docs[name] = m
	}
	return c
}

// Update runs fn against a copy of the state and swaps it in on success.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(memTx{st: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) view() memTx {
	return memTx{st: m.state}
}

// Get returns a document.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().Get(ctx, collection, id)
}

// All returns every document in a collection.
func (m *MemoryStore) All(ctx context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().All(ctx, collection)
}

// Query filters a collection by an indexed field.
func (m *MemoryStore) Query(ctx context.Context, collection, index string, value interface{}) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().Query(ctx, collection, index, value)
}

// Put inserts or replaces a document.
func (m *MemoryStore) Put(ctx context.Context, collection string, doc Document) error {
	return m.Update(ctx, func(tx Tx) error { return tx.Put(ctx, collection, doc) })
}

// Delete removes a document.
func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return m.Update(ctx, func(tx Tx) error { return tx.Delete(ctx, collection, id) })
}

// Enqueue appends a queue entry.
func (m *MemoryStore) Enqueue(ctx context.Context, entry models.QueueEntry) (int64, error) {
	var id int64
	err := m.Update(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Enqueue(ctx, entry)
		return err
	})
	return id, err
}

// DeleteEntry removes a queue entry.
func (m *MemoryStore) DeleteEntry(ctx context.Context, id int64) error {
	return m.Update(ctx, func(tx Tx) error { return tx.DeleteEntry(ctx, id) })
}

// RewriteRecordID retargets queued entries.
func (m *MemoryStore) RewriteRecordID(ctx context.Context, entityType models.EntityType, oldID, newID string) (int, error) {
	var n int
	err := m.Update(ctx, func(tx Tx) error {
		var err error
		n, err = tx.RewriteRecordID(ctx, entityType, oldID, newID)
		return err
	})
	return n, err
}

// RewriteReference retargets a payload field in queued entries.
func (m *MemoryStore) RewriteReference(ctx context.Context, entityType models.EntityType, field, oldID, newID string) (int, error) {
	var n int
	err := m.Update(ctx, func(tx Tx) error {
		var err error
		n, err = tx.RewriteReference(ctx, entityType, field, oldID, newID)
		return err
	})
	return n, err
}

// QueueEntries returns a snapshot of the queue ordered by id.
func (m *MemoryStore) QueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append([]models.QueueEntry(nil), m.state.queue...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// MarkAttempt records a failed replay.
func (m *MemoryStore) MarkAttempt(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.state.queue {
		if m.state.queue[i].ID == id {
			m.state.queue[i].Attempts++
			m.state.queue[i].LastError = errMsg
			return nil
		}
	}
	return nil
}

// QueueLength counts queued entries.
func (m *MemoryStore) QueueLength(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.queue), nil
}

// CountUnsynced counts documents with synced=false.
func (m *MemoryStore) CountUnsynced(ctx context.Context, collection string) (int, error) {
	docs, err := m.Query(ctx, collection, "synced", false)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// SchemaVersion returns the compiled-in schema version.
func (m *MemoryStore) SchemaVersion() int {
	return SchemaVersion
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	st *memState
}

func (t memTx) collection(name string) (map[string]Document, error) {
	if _, err := lookupCollection(name); err != nil {
		return nil, err
	}
	return t.st.docs[name], nil
}

func (t memTx) Get(ctx context.Context, collection, id string) (Document, error) {
	docs, err := t.collection(collection)
	if err != nil {
		return Document{}, err
	}
	doc, ok := docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%s %s: %w", collection, id, models.ErrNotFound)
	}
	return doc, nil
}

func (t memTx) All(ctx context.Context, collection string) ([]Document, error) {
	docs, err := t.collection(collection)
	if err != nil {
		return nil, err
	}
	return sortedDocs(docs, func(Document) bool { return true }), nil
}

func (t memTx) Query(ctx context.Context, collection, index string, value interface{}) ([]Document, error) {
	c, err := lookupCollection(collection)
	if err != nil {
		return nil, err
	}
	if !c.hasIndex(index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}

	var match func(Document) bool
	switch index {
	case "synced":
		want, _ := value.(bool)
		match = func(d Document) bool { return d.Synced == want }
	case "user_id":
		want, _ := value.(string)
		match = func(d Document) bool { return d.UserID == want }
	default:
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}

	return sortedDocs(t.st.docs[collection], match), nil
}

func (t memTx) Put(ctx context.Context, collection string, doc Document) error {
	docs, err := t.collection(collection)
	if err != nil {
		return err
	}
	doc.Body = append([]byte(nil), doc.Body...)
	docs[doc.ID] = doc
	return nil
}

func (t memTx) Delete(ctx context.Context, collection, id string) error {
	docs, err := t.collection(collection)
	if err != nil {
		return err
	}
	delete(docs, id)
	return nil
}

func (t memTx) Enqueue(ctx context.Context, entry models.QueueEntry) (int64, error) {
	entry.ID = t.st.nextID
	t.st.nextID++
	entry.Data = append([]byte(nil), entry.Data...)
	t.st.queue = append(t.st.queue, entry)
	return entry.ID, nil
}

func (t memTx) DeleteEntry(ctx context.Context, id int64) error {
	for i, e := range t.st.queue {
		if e.ID == id {
			t.st.queue = append(t.st.queue[:i:i], t.st.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t memTx) RewriteRecordID(ctx context.Context, entityType models.EntityType, oldID, newID string) (int, error) {
	n := 0
	for i := range t.st.queue {
		e := &t.st.queue[i]
		if e.EntityType != entityType || e.RecordID != oldID {
			continue
		}
		data, err := rewriteDataID(string(e.Data), newID)
		if err != nil {
			return n, fmt.Errorf("queue entry %d: %w", e.ID, err)
		}
		e.RecordID = newID
		e.Data = []byte(data)
		n++
	}
	return n, nil
}

func (t memTx) RewriteReference(ctx context.Context, entityType models.EntityType, field, oldID, newID string) (int, error) {
	n := 0
	for i := range t.st.queue {
		e := &t.st.queue[i]
		if e.EntityType != entityType {
			continue
		}
		data, changed, err := rewriteField(string(e.Data), field, oldID, newID)
		if err != nil {
			return n, fmt.Errorf("queue entry %d: %w", e.ID, err)
		}
		if changed {
			e.Data = []byte(data)
			n++
		}
	}
	return n, nil
}

func sortedDocs(docs map[string]Document, match func(Document) bool) []Document {
	var out []Document
	for _, d := range docs {
		if match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
