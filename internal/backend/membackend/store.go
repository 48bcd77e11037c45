// Package membackend provides in-memory DocumentStore and IdentityProvider
// implementations used by tests and local development.
package membackend

import (
	"context"
	"sort"
	"sync"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/errs"
)

// Store is an in-memory DocumentStore. Change notifications fire
// synchronously from the mutating call, which makes "within one callback
// cycle" assertions in tests deterministic.
type Store struct {
	mu     sync.Mutex
	cols   map[string]map[string]map[string]any
	order  map[string][]string // insertion order per collection
	watch  map[int]*watcher
	nextID int
}

type watcher struct {
	collection string
	docID      string // single-doc watch when non-empty
	query      backend.Query
	onDoc      func(backend.Document, bool)
	onQuery    func([]backend.Document)
}

var _ backend.DocumentStore = (*Store)(nil)

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		cols:  make(map[string]map[string]map[string]any),
		order: make(map[string][]string),
		watch: make(map[int]*watcher),
	}
}

func copyFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get loads one document.
func (s *Store) Get(_ context.Context, collection, id string) (backend.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.cols[collection][id]
	if !ok {
		return backend.Document{}, errs.ErrNotFound
	}
	return backend.Document{ID: id, Fields: copyFields(fields)}, nil
}

// Set writes fields of a document, merging or replacing.
func (s *Store) Set(_ context.Context, collection, id string, fields map[string]any, merge bool) error {
	s.mu.Lock()
	col, ok := s.cols[collection]
	if !ok {
		col = make(map[string]map[string]any)
		s.cols[collection] = col
	}
	existing, had := col[id]
	if merge && had {
		for k, v := range fields {
			existing[k] = v
		}
	} else {
		col[id] = copyFields(fields)
	}
	if !had {
		s.order[collection] = append(s.order[collection], id)
	}
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

// Delete removes a document; absent documents are ignored.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	col := s.cols[collection]
	if _, ok := col[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(col, id)
	ord := s.order[collection]
	for i, v := range ord {
		if v == id {
			s.order[collection] = append(ord[:i:i], ord[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

// AppendToArray appends values to an array field, creating it when absent.
func (s *Store) AppendToArray(_ context.Context, collection, id, field string, values ...any) error {
	s.mu.Lock()
	fields, ok := s.cols[collection][id]
	if !ok {
		s.mu.Unlock()
		return errs.ErrNotFound
	}
	arr, _ := fields[field].([]any)
	fields[field] = append(arr, values...)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

// Fetch runs a one-shot query.
func (s *Store) Fetch(_ context.Context, q backend.Query) ([]backend.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(q), nil
}

// WatchDoc subscribes to one document and fires immediately with its state.
func (s *Store) WatchDoc(_ context.Context, collection, id string, fn func(backend.Document, bool)) (backend.Unsubscribe, error) {
	s.mu.Lock()
	key := s.nextID
	s.nextID++
	s.watch[key] = &watcher{collection: collection, docID: id, onDoc: fn}
	fields, ok := s.cols[collection][id]
	var initial backend.Document
	if ok {
		initial = backend.Document{ID: id, Fields: copyFields(fields)}
	}
	s.mu.Unlock()

	fn(initial, ok)
	return s.unsubscribe(key), nil
}

// WatchQuery subscribes to a query and fires immediately with the snapshot.
func (s *Store) WatchQuery(_ context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	s.mu.Lock()
	key := s.nextID
	s.nextID++
	s.watch[key] = &watcher{collection: q.Collection, query: q, onQuery: fn}
	initial := s.snapshotLocked(q)
	s.mu.Unlock()

	fn(initial)
	return s.unsubscribe(key), nil
}

// BatchWrite applies all writes, then notifies each touched collection once.
func (s *Store) BatchWrite(ctx context.Context, writes []backend.Write) error {
	touched := make(map[string]bool)
	s.mu.Lock()
	for _, w := range writes {
		col, ok := s.cols[w.Collection]
		if !ok {
			col = make(map[string]map[string]any)
			s.cols[w.Collection] = col
		}
		if w.Delete {
			delete(col, w.ID)
		} else {
			if _, had := col[w.ID]; !had {
				s.order[w.Collection] = append(s.order[w.Collection], w.ID)
			}
			col[w.ID] = copyFields(w.Fields)
		}
		touched[w.Collection] = true
	}
	s.mu.Unlock()
	for c := range touched {
		s.notify(c)
	}
	return nil
}

func (s *Store) unsubscribe(key int) backend.Unsubscribe {
	return func() {
		s.mu.Lock()
		delete(s.watch, key)
		s.mu.Unlock()
	}
}

// snapshotLocked materializes a query result in insertion order, re-sorted
// only when the query asks for it.
func (s *Store) snapshotLocked(q backend.Query) []backend.Document {
	var out []backend.Document
	for _, id := range s.order[q.Collection] {
		fields, ok := s.cols[q.Collection][id]
		if !ok {
			continue
		}
		if q.Field != "" && fields[q.Field] != q.Equals {
			continue
		}
		out = append(out, backend.Document{ID: id, Fields: copyFields(fields)})
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := out[i].Fields[q.OrderBy].(string)
			b, _ := out[j].Fields[q.OrderBy].(string)
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}
	return out
}

// notify re-delivers snapshots to every watcher of a collection.
func (s *Store) notify(collection string) {
	s.mu.Lock()
	type docCall struct {
		fn     func(backend.Document, bool)
		doc    backend.Document
		exists bool
	}
	type queryCall struct {
		fn   func([]backend.Document)
		docs []backend.Document
	}
	var docCalls []docCall
	var queryCalls []queryCall
	for _, w := range s.watch {
		if w.collection != collection {
			continue
		}
		if w.docID != "" {
			fields, ok := s.cols[collection][w.docID]
			var d backend.Document
			if ok {
				d = backend.Document{ID: w.docID, Fields: copyFields(fields)}
			}
			docCalls = append(docCalls, docCall{fn: w.onDoc, doc: d, exists: ok})
		} else {
			queryCalls = append(queryCalls, queryCall{fn: w.onQuery, docs: s.snapshotLocked(w.query)})
		}
	}
	s.mu.Unlock()

	// Callbacks run outside the lock so they can mutate the store.
	for _, c := range docCalls {
		c.fn(c.doc, c.exists)
	}
	for _, c := range queryCalls {
		c.fn(c.docs)
	}
}
