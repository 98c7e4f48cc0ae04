package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"pumpledger/internal/store"
)

type entry struct {
	data    []byte
	version int64
}

// Store is an in-process document store with optimistic transactions. Every
// committed write bumps the document version and the collection epoch; a
// transaction commits only if everything it read is still at the version it
// saw.
type Store struct {
	mu           sync.RWMutex
	docs         map[store.Collection]map[string]entry
	epochs       map[store.Collection]int64
	seq          int64
	maxAttempts  int
	beforeCommit func(attempt int)
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBeforeCommit installs a hook that runs after a transaction body
// finishes and before its commit is validated. Tests use it to inject
// concurrent writers.
func WithBeforeCommit(hook func(attempt int)) Option {
	return func(s *Store) {
		s.beforeCommit = hook
	}
}

// SetBeforeCommit replaces the hook installed by WithBeforeCommit. It must
// not be called while transactions are running.
func (s *Store) SetBeforeCommit(hook func(attempt int)) {
	s.beforeCommit = hook
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[store.Collection]map[string]entry),
		epochs:      make(map[store.Collection]int64),
		maxAttempts: store.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	e, ok := s.docs[c][id]
	s.mu.RUnlock()
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Version: e.version, Data: e.data}, nil
}

func (s *Store) Find(ctx context.Context, c store.Collection, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := s.snapshot(c)
	s.mu.RUnlock()
	return applyQuery(docs, q)
}

func (s *Store) Batch(ctx context.Context, writes []store.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := make([]stagedWrite, 0, len(writes))
	for _, w := range writes {
		sw := stagedWrite{key: store.Key{Collection: w.Collection, ID: w.ID}}
		if w.Value != nil {
			data, err := store.Encode(w.Value)
			if err != nil {
				return fmt.Errorf("encode %s/%s: %w", w.Collection, w.ID, err)
			}
			sw.data = data
		}
		staged = append(staged, sw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(staged)
	return nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := newTx(s)
		err := fn(ctx, t)
		if s.beforeCommit != nil {
			s.beforeCommit(attempt)
		}
		if err != nil {
			// A body that failed on a stale view gets a fresh attempt.
			if s.stale(t) {
				continue
			}
			return err
		}
		if s.commit(t) {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", store.ErrConflict, s.maxAttempts)
}

func (s *Store) snapshot(c store.Collection) []store.Document {
	coll := s.docs[c]
	out := make([]store.Document, 0, len(coll))
	for id, e := range coll {
		out = append(out, store.Document{ID: id, Version: e.version, Data: e.data})
	}
	return out
}

type stagedWrite struct {
	key  store.Key
	data []byte
}

// apply must be called with s.mu held for writing.
func (s *Store) apply(writes []stagedWrite) {
	touched := make(map[store.Collection]bool)
	for _, w := range writes {
		coll := s.docs[w.key.Collection]
		if coll == nil {
			coll = make(map[string]entry)
			s.docs[w.key.Collection] = coll
		}
		if w.data == nil {
			delete(coll, w.key.ID)
		} else {
			s.seq++
			coll[w.key.ID] = entry{data: w.data, version: s.seq}
		}
		touched[w.key.Collection] = true
	}
	for c := range touched {
		s.epochs[c]++
	}
}

func (s *Store) stale(t *tx) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.validLocked(t)
}

func (s *Store) validLocked(t *tx) bool {
	for key, version := range t.reads {
		if s.docs[key.Collection][key.ID].version != version {
			return false
		}
	}
	for c, epoch := range t.scans {
		if s.epochs[c] != epoch {
			return false
		}
	}
	return true
}

func (s *Store) commit(t *tx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(t) {
		return false
	}
	writes := make([]stagedWrite, 0, len(t.order))
	for _, key := range t.order {
		writes = append(writes, stagedWrite{key: key, data: t.writes[key]})
	}
	s.apply(writes)
	return true
}

type tx struct {
	s      *Store
	reads  map[store.Key]int64
	scans  map[store.Collection]int64
	writes map[store.Key][]byte
	order  []store.Key
}

func newTx(s *Store) *tx {
	return &tx{
		s:      s,
		reads:  make(map[store.Key]int64),
		scans:  make(map[store.Collection]int64),
		writes: make(map[store.Key][]byte),
	}
}

func (t *tx) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	key := store.Key{Collection: c, ID: id}
	if data, ok := t.writes[key]; ok {
		if data == nil {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{ID: id, Data: data}, nil
	}

	t.s.mu.RLock()
	e, ok := t.s.docs[c][id]
	t.s.mu.RUnlock()
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = e.version
	}
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Version: e.version, Data: e.data}, nil
}

func (t *tx) Find(ctx context.Context, c store.Collection, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	committed := t.s.snapshot(c)
	epoch := t.s.epochs[c]
	t.s.mu.RUnlock()
	if _, seen := t.scans[c]; !seen {
		t.scans[c] = epoch
	}

	merged := make([]store.Document, 0, len(committed))
	for _, doc := range committed {
		if _, overlaid := t.writes[store.Key{Collection: c, ID: doc.ID}]; overlaid {
			continue
		}
		merged = append(merged, doc)
	}
	for _, key := range t.order {
		if key.Collection != c {
			continue
		}
		if data := t.writes[key]; data != nil {
			merged = append(merged, store.Document{ID: key.ID, Data: data})
		}
	}
	return applyQuery(merged, q)
}

func (t *tx) Put(_ context.Context, c store.Collection, id string, value any) error {
	if value == nil {
		return fmt.Errorf("put %s/%s: nil value", c, id)
	}
	data, err := store.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, id, err)
	}
	t.stage(store.Key{Collection: c, ID: id}, data)
	return nil
}

func (t *tx) Delete(_ context.Context, c store.Collection, id string) error {
	t.stage(store.Key{Collection: c, ID: id}, nil)
	return nil
}

func (t *tx) stage(key store.Key, data []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = data
}

type decodedDoc struct {
	doc    store.Document
	fields map[string]json.RawMessage
	order  float64
}

func applyQuery(docs []store.Document, q store.Query) ([]store.Document, error) {
	matched := make([]decodedDoc, 0, len(docs))
	for _, doc := range docs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.ID, err)
		}
		if !matches(fields, q.Filters) {
			continue
		}
		d := decodedDoc{doc: doc, fields: fields}
		if q.OrderBy != "" {
			d.order = numberField(fields, q.OrderBy)
		}
		matched = append(matched, d)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if q.OrderBy != "" && matched[i].order != matched[j].order {
			if q.Desc {
				return matched[i].order > matched[j].order
			}
			return matched[i].order < matched[j].order
		}
		return matched[i].doc.ID < matched[j].doc.ID
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]store.Document, 0, len(matched))
	for _, d := range matched {
		out = append(out, d.doc)
	}
	return out, nil
}

func matches(fields map[string]json.RawMessage, filters []store.Filter) bool {
	for _, f := range filters {
		raw, ok := fields[f.Field]
		if !ok {
			return false
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil || value != f.Value {
			return false
		}
	}
	return true
}

func numberField(fields map[string]json.RawMessage, name string) float64 {
	raw, ok := fields[name]
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0
	}
	return n
}
