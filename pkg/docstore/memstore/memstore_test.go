package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signalement-platform/pkg/docstore"
)

func TestAddGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Add(ctx, "signalements", map[string]any{"title": "Pothole", "status": "nouveau"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Update(ctx, "signalements", id, map[string]any{"status": "en_cours"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "signalements", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data["title"] != "Pothole" || got.Data["status"] != "en_cours" {
		t.Errorf("unexpected document %+v", got.Data)
	}

	if _, err := s.Get(ctx, "signalements", "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("get missing: want ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, "signalements", "missing", map[string]any{"x": 1}); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("update missing: want ErrNotFound, got %v", err)
	}
}

func TestQueryMatchesAcrossNumberTypes(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("points", "a", map[string]any{"id": int64(4), "latitude": -18.9})
	s.Put("points", "b", map[string]any{"id": float64(5)})
	s.Put("points", "c", map[string]any{"id": "4"})

	docs, err := s.Query(ctx, "points", docstore.Eq("id", 4))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Errorf("expected only doc a, got %+v", docs)
	}
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("c", "1", map[string]any{"photos": []any{"a"}})

	d, _ := s.Get(ctx, "c", "1")
	d.Data["photos"].([]any)[0] = "mutated"

	again, _ := s.Get(ctx, "c", "1")
	if again.Data["photos"].([]any)[0] != "a" {
		t.Errorf("store content changed through a returned document")
	}
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("counters", "x", map[string]any{"lastId": int64(0)})

	runs := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		runs++
		d, _, err := tx.Get("counters", "x")
		if err != nil {
			return err
		}
		if runs == 1 {
			// A competing writer commits between our read and our commit.
			s.Put("counters", "x", map[string]any{"lastId": int64(10)})
		}
		n, _ := docstore.Int(d.Data, "lastId")
		return tx.Set("counters", "x", map[string]any{"lastId": n + 1}, true)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if runs != 2 {
		t.Errorf("expected body to run twice, ran %d times", runs)
	}
	d, _ := s.Get(ctx, "counters", "x")
	if n, _ := docstore.Int(d.Data, "lastId"); n != 11 {
		t.Errorf("lastId = %d, want 11", n)
	}
}

func TestTransactionAbortsWhenBudgetSpent(t *testing.T) {
	ctx := context.Background()
	s := New(WithMaxAttempts(2))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, _, err := tx.Get("counters", "x"); err != nil {
			return err
		}
		s.Put("counters", "x", map[string]any{"lastId": int64(1)})
		return tx.Set("counters", "x", map[string]any{"lastId": int64(99)}, true)
	})
	if !errors.Is(err, docstore.ErrTxAborted) {
		t.Fatalf("want ErrTxAborted, got %v", err)
	}
	d, _ := s.Get(ctx, "counters", "x")
	if n, _ := docstore.Int(d.Data, "lastId"); n == 99 {
		t.Errorf("aborted transaction wrote its value")
	}
}

func TestTransactionBodyErrorIsNotRetried(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	runs := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		runs++
		return boom
	})
	if !errors.Is(err, boom) || runs != 1 {
		t.Errorf("err=%v runs=%d", err, runs)
	}
}

func TestSubscribeDeliversInitialAndLaterSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put("signalements", "a", map[string]any{"status": "nouveau"})

	var mu sync.Mutex
	var sizes []int
	got := make(chan struct{}, 10)
	sub, err := s.Subscribe(ctx, "signalements", func(docs []docstore.Doc) {
		mu.Lock()
		sizes = append(sizes, len(docs))
		mu.Unlock()
		got <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	waitFor(t, got)
	if _, err := s.Add(ctx, "signalements", map[string]any{"status": "nouveau"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, got)

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 2 {
		t.Errorf("snapshot sizes = %v, want [1 2]", sizes)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()
	got := make(chan struct{}, 10)
	sub, _ := s.Subscribe(ctx, "c", func([]docstore.Doc) { got <- struct{}{} })
	waitFor(t, got)
	sub.Unsubscribe()

	s.Put("c", "1", map[string]any{})
	select {
	case <-got:
		t.Fatal("snapshot delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}
