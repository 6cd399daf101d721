package watcher

import (
	"context"
	"testing"
	"time"

	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/docstore/memstore"
	"signalement-platform/pkg/signalement"
)

func snap(docs ...docstore.Doc) []docstore.Doc { return docs }

func doc(id, title, status string) docstore.Doc {
	data := map[string]any{"status": status}
	if title != "" {
		data["title"] = title
	}
	return docstore.Doc{ID: id, Data: data}
}

func TestFirstSnapshotNeverEmits(t *testing.T) {
	d := newDiffer(nil)
	records, transitions := d.observe(snap(doc("a", "A", "termine"), doc("b", "B", "en_cours")))
	if len(records) != 2 {
		t.Errorf("records = %d", len(records))
	}
	if len(transitions) != 0 {
		t.Errorf("first snapshot emitted %v", transitions)
	}
}

func TestSingleChangeEmitsOnce(t *testing.T) {
	d := newDiffer(nil)
	var all []Transition
	for _, status := range []string{"nouveau", "en_cours", "en_cours"} {
		_, tr := d.observe(snap(doc("a", "Route", status)))
		all = append(all, tr...)
	}
	if len(all) != 1 {
		t.Fatalf("transitions = %v, want exactly one", all)
	}
	want := Transition{ID: "a", Title: "Route", OldStatus: signalement.StatusNew, NewStatus: signalement.StatusInProgress}
	if all[0] != want {
		t.Errorf("got %+v, want %+v", all[0], want)
	}
}

func TestOnlyNetTransitionIsVisible(t *testing.T) {
	d := newDiffer(nil)
	d.observe(snap(doc("a", "A", "nouveau")))
	// en_cours happened between the two snapshots and is never seen.
	_, tr := d.observe(snap(doc("a", "A", "termine")))
	if len(tr) != 1 || tr[0].OldStatus != signalement.StatusNew || tr[0].NewStatus != signalement.StatusDone {
		t.Errorf("transitions = %+v", tr)
	}
}

func TestNewAndTitlelessRecordsDoNotEmit(t *testing.T) {
	d := newDiffer(nil)
	d.observe(snap(doc("a", "A", "nouveau"), doc("ghost", "", "nouveau")))
	records, tr := d.observe(snap(
		doc("a", "A", "nouveau"),
		doc("ghost", "", "termine"),
		doc("b", "B", "termine"),
	))
	if len(tr) != 0 {
		t.Errorf("transitions = %+v", tr)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestLegacyStatusIsDiffedAfterNormalization(t *testing.T) {
	d := newDiffer(nil)
	d.observe(snap(docstore.Doc{ID: "x", Data: map[string]any{"type_signalement_id": int64(4), "statuts_id": int64(1)}}))
	_, tr := d.observe(snap(docstore.Doc{ID: "x", Data: map[string]any{"type_signalement_id": int64(4), "statuts_id": int64(3)}}))
	if len(tr) != 1 || tr[0].Title != "Accident" || tr[0].NewStatus != signalement.StatusDone {
		t.Errorf("transitions = %+v", tr)
	}
}

type delivery struct {
	records     int
	transitions []Transition
}

func TestWatchOverLiveStore(t *testing.T) {
	store := memstore.New()
	store.Put(signalement.Collection, "r1", map[string]any{"title": "Pont", "status": "nouveau", "userId": "u9"})
	w := New(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan delivery, 8)
	sub, err := w.Watch(ctx, func(records []signalement.Signalement, tr []Transition) {
		got <- delivery{records: len(records), transitions: tr}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Unsubscribe()

	first := next(t, got)
	if first.records != 1 || len(first.transitions) != 0 {
		t.Fatalf("first delivery = %+v", first)
	}

	if err := store.Update(ctx, signalement.Collection, "r1", map[string]any{"status": "en_cours"}); err != nil {
		t.Fatal(err)
	}
	second := next(t, got)
	if len(second.transitions) != 1 {
		t.Fatalf("second delivery = %+v", second)
	}
	if tr := second.transitions[0]; tr.UserID != "u9" || tr.NewStatus != signalement.StatusInProgress {
		t.Errorf("transition = %+v", tr)
	}
}

func next(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return delivery{}
	}
}
