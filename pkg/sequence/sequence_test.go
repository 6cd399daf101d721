package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/docstore/memstore"
)

func TestNextStartsAtOneOnEmptyCounter(t *testing.T) {
	a := NewAllocator(memstore.New(), nil)

	for want := int64(1); want <= 3; want++ {
		got, err := a.Next(context.Background(), "signalements")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
}

func TestNextContinuesFromStoredValue(t *testing.T) {
	store := memstore.New()
	store.Put(CountersCollection, "signalements", map[string]any{"lastId": int64(41), "label": "kept"})
	a := NewAllocator(store, nil)

	got, err := a.Next(context.Background(), "signalements")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != 42 {
		t.Errorf("Next() = %d, want 42", got)
	}

	doc, _ := store.Get(context.Background(), CountersCollection, "signalements")
	if doc.Data["label"] != "kept" {
		t.Errorf("merge write dropped other fields: %+v", doc.Data)
	}
}

func TestSequencesAreIndependent(t *testing.T) {
	a := NewAllocator(memstore.New(), nil)
	ctx := context.Background()

	a.Next(ctx, "a")
	a.Next(ctx, "a")
	got, _ := a.Next(ctx, "b")
	if got != 1 {
		t.Errorf("sequence b = %d, want 1", got)
	}
}

func TestConcurrentCallersGetDistinctContiguousValues(t *testing.T) {
	const n = 40
	store := memstore.New()
	store.Put(CountersCollection, "x", map[string]any{"lastId": int64(7)})
	a := NewAllocator(store, nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		values []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.Next(context.Background(), "x")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(values) != n {
		t.Fatalf("got %d values, want %d", len(values), n)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		if want := int64(8 + i); v != want {
			t.Fatalf("values[%d] = %d, want %d (values %v)", i, v, want, values)
		}
	}
}

type abortingStore struct {
	docstore.Store
}

func (abortingStore) RunTransaction(context.Context, docstore.TxFunc) error {
	return docstore.ErrTxAborted
}

func TestNextPropagatesAbort(t *testing.T) {
	a := NewAllocator(abortingStore{memstore.New()}, nil)

	_, err := a.Next(context.Background(), "signalements")
	if !errors.Is(err, ErrTransactionFailed) {
		t.Errorf("want ErrTransactionFailed, got %v", err)
	}
	if !errors.Is(err, docstore.ErrTxAborted) {
		t.Errorf("store cause lost: %v", err)
	}
}

func TestNextRejectsEmptyName(t *testing.T) {
	a := NewAllocator(memstore.New(), nil)
	if _, err := a.Next(context.Background(), ""); err == nil {
		t.Error("expected error for empty name")
	}
}
