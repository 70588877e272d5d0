package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with live query fan-out. It backs tests
// and the CLI composition root; a hosted document database slots in behind
// the same interface.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	subs        map[int]*memSub
	nextSub     int
}

type memSub struct {
	id    int
	query Query
	ch    chan Document
	store *MemStore
	once  sync.Once
}

func (s *memSub) Updates() <-chan Document { return s.ch }

func (s *memSub) Cancel() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		s.store.mu.Unlock()
		close(s.ch)
	})
}

// NewMemStore creates an empty in-memory record store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]map[string]Document),
		subs:        make(map[int]*memSub),
	}
}

func (m *MemStore) collection(name string) map[string]Document {
	col, ok := m.collections[name]
	if !ok {
		col = make(map[string]Document)
		m.collections[name] = col
	}
	return col
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// Put creates or replaces a document.
func (m *MemStore) Put(ctx context.Context, collection, id string, doc Document) error {
	stored := cloneDoc(doc)
	stored["id"] = id

	m.mu.Lock()
	m.collection(collection)[id] = stored
	m.notifyLocked(collection, stored)
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the document, or nil when absent.
func (m *MemStore) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return cloneDoc(doc), nil
}

// Update merges fields into an existing document.
func (m *MemStore) Update(ctx context.Context, collection, id string, fields Document) error {
	m.mu.Lock()
	doc, ok := m.collection(collection)[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("record %s/%s not found", collection, id)
	}
	for k, v := range fields {
		doc[k] = v
	}
	m.notifyLocked(collection, cloneDoc(doc))
	m.mu.Unlock()
	return nil
}

// Find returns all current matches, ordered by the query's timestamp field.
func (m *MemStore) Find(ctx context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	out := m.matchesLocked(q)
	m.mu.RUnlock()
	return out, nil
}

// matchesLocked collects and orders current matches. Caller holds m.mu.
func (m *MemStore) matchesLocked(q Query) []Document {
	var out []Document
	for _, doc := range m.collections[q.Collection] {
		if q.Matches(doc) {
			out = append(out, cloneDoc(doc))
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := timestampOf(out[i][q.OrderBy]), timestampOf(out[j][q.OrderBy])
			if q.Descending {
				return a.After(b)
			}
			return a.Before(b)
		})
	}
	return out
}

// Subscribe opens a live query. Current matches are delivered before any
// future updates. The snapshot and the registration happen under one
// lock, so a concurrent write is either in the snapshot or delivered
// live, never neither.
func (m *MemStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	m.mu.Lock()
	existing := m.matchesLocked(q)
	sub := &memSub{
		id:    m.nextSub,
		query: q,
		ch:    make(chan Document, 64+len(existing)),
		store: m,
	}
	m.nextSub++
	m.subs[sub.id] = sub
	for _, doc := range existing {
		sub.ch <- doc
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Cancel()
	}()

	return sub, nil
}

// notifyLocked fans a changed document out to matching subscriptions.
// Caller must hold m.mu, which also serializes against Cancel closing a
// subscription channel mid-send.
func (m *MemStore) notifyLocked(collection string, doc Document) {
	for _, sub := range m.subs {
		if sub.query.Collection != collection || !sub.query.Matches(doc) {
			continue
		}
		select {
		case sub.ch <- cloneDoc(doc):
		default:
			// Slow subscriber: drop rather than block writers. The
			// receiver watch is idempotent against missed updates.
		}
	}
}

func timestampOf(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	case int64:
		return time.Unix(t, 0)
	}
	return time.Time{}
}
