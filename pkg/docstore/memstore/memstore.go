// Package memstore is an in-process docstore.Store. Every document carries
// a version; transactions record the versions they read and commit only if
// none changed, retrying the body otherwise, the way Firestore and MongoDB
// handle optimistic conflicts.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"signalement-platform/pkg/docstore"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 100

var errReadAfterWrite = errors.New("memstore: transaction read after write")

type entry struct {
	data    map[string]any
	version uint64
}

type collection struct {
	docs  map[string]*entry
	order []string
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	subs        map[string]map[*subscriber]struct{}
	clock       uint64
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds how many times a transaction body runs before the
// store gives up with docstore.ErrTxAborted.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		subs:        make(map[string]map[*subscriber]struct{}),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]*entry)}
		s.collections[name] = c
	}
	return c
}

// Put writes a document under a fixed id, replacing any previous content.
// It is meant for seeding fixtures.
func (s *Store) Put(collectionName, id string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(collectionName, id, data, false)
	s.publish(collectionName)
}

func (s *Store) write(collectionName, id string, data map[string]any, merge bool) {
	c := s.coll(collectionName)
	s.clock++
	e, ok := c.docs[id]
	if !ok {
		c.docs[id] = &entry{data: docstore.Clone(data), version: s.clock}
		c.order = append(c.order, id)
		return
	}
	if merge {
		for k, v := range docstore.Clone(data) {
			e.data[k] = v
		}
	} else {
		e.data = docstore.Clone(data)
	}
	e.version = s.clock
}

func (s *Store) version(collectionName, id string) uint64 {
	c, ok := s.collections[collectionName]
	if !ok {
		return 0
	}
	if e, ok := c.docs[id]; ok {
		return e.version
	}
	return 0
}

func (s *Store) Get(ctx context.Context, collectionName, id string) (docstore.Doc, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Doc{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionName]
	if !ok {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	e, ok := c.docs[id]
	if !ok {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	return docstore.Doc{ID: id, Data: docstore.Clone(e.data)}, nil
}

func (s *Store) Query(ctx context.Context, collectionName string, filters ...docstore.Filter) ([]docstore.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []docstore.Doc
	for _, d := range s.snapshot(collectionName) {
		if matches(d.Data, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, collectionName string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(collectionName, id, data, false)
	s.publish(collectionName)
	return id, nil
}

func (s *Store) Update(ctx context.Context, collectionName, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version(collectionName, id) == 0 {
		return docstore.ErrNotFound
	}
	s.write(collectionName, id, fields, true)
	s.publish(collectionName)
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: s, reads: make(map[docKey]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%w after %d attempts", docstore.ErrTxAborted, attempt)
		}
	}
}

func (s *Store) commit(tx *memTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tx.reads {
		if s.version(k.collection, k.id) != v {
			return false
		}
	}
	touched := make(map[string]struct{})
	for _, w := range tx.writes {
		s.write(w.key.collection, w.key.id, w.data, w.merge)
		touched[w.key.collection] = struct{}{}
	}
	for name := range touched {
		s.publish(name)
	}
	return true
}

func (s *Store) Subscribe(ctx context.Context, collectionName string, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := newSubscriber(fn)
	s.mu.Lock()
	if s.subs[collectionName] == nil {
		s.subs[collectionName] = make(map[*subscriber]struct{})
	}
	s.subs[collectionName][sub] = struct{}{}
	sub.push(s.snapshot(collectionName))
	s.mu.Unlock()

	go sub.run()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[collectionName], sub)
			s.mu.Unlock()
			sub.stop()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return docstore.SubscriptionFunc(unsubscribe), nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	var all []*subscriber
	for name, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
		delete(s.subs, name)
	}
	s.mu.Unlock()
	for _, sub := range all {
		sub.stop()
	}
	return nil
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot(collectionName string) []docstore.Doc {
	c, ok := s.collections[collectionName]
	if !ok {
		return []docstore.Doc{}
	}
	out := make([]docstore.Doc, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, docstore.Doc{ID: id, Data: docstore.Clone(c.docs[id].data)})
	}
	return out
}

// publish must be called with s.mu held so snapshots queue in commit order.
func (s *Store) publish(collectionName string) {
	set := s.subs[collectionName]
	if len(set) == 0 {
		return
	}
	for sub := range set {
		sub.push(s.snapshot(collectionName))
	}
}

type docKey struct {
	collection string
	id         string
}

type pendingWrite struct {
	key   docKey
	data  map[string]any
	merge bool
}

type memTx struct {
	store  *Store
	reads  map[docKey]uint64
	writes []pendingWrite
}

func (t *memTx) Get(collectionName, id string) (docstore.Doc, bool, error) {
	if len(t.writes) > 0 {
		return docstore.Doc{}, false, errReadAfterWrite
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := docKey{collectionName, id}
	t.reads[key] = t.store.version(collectionName, id)
	c, ok := t.store.collections[collectionName]
	if !ok {
		return docstore.Doc{ID: id}, false, nil
	}
	e, ok := c.docs[id]
	if !ok {
		return docstore.Doc{ID: id}, false, nil
	}
	return docstore.Doc{ID: id, Data: docstore.Clone(e.data)}, true, nil
}

func (t *memTx) Set(collectionName, id string, data map[string]any, merge bool) error {
	t.writes = append(t.writes, pendingWrite{
		key:   docKey{collectionName, id},
		data:  docstore.Clone(data),
		merge: merge,
	})
	return nil
}

func matches(data map[string]any, filters []docstore.Filter) bool {
	for _, f := range filters {
		v, ok := data[f.Field]
		if !ok || !equal(v, f.Value) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if ai, ok := docstore.AsInt(a); ok {
		if _, isString := a.(string); !isString {
			bi, ok := docstore.AsInt(b)
			_, bString := b.(string)
			return ok && !bString && ai == bi
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	}
	return false
}
