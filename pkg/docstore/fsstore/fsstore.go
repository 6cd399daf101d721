// Package fsstore implements docstore.Store on Cloud Firestore.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signalement-platform/pkg/docstore"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
	log    *zap.Logger
}

func New(client *firestore.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log.Named("fsstore")}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return docstore.Doc{}, docstore.ErrNotFound
		}
		return docstore.Doc{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return toDoc(snap), nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Doc, error) {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return toDocs(snaps), nil
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("add %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		if isNotFound(err) {
			return docstore.ErrNotFound
		}
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// RunTransaction relies on the client's own retry loop for contention.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &fsTx{client: s.client, tx: tx})
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Aborted, codes.DeadlineExceeded, codes.Unavailable:
			return fmt.Errorf("%w: %v", docstore.ErrTxAborted, err)
		}
		return err
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collection).Snapshots(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				s.log.Error("snapshot listener stopped", zap.String("collection", collection), zap.Error(err))
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				s.log.Error("read snapshot documents", zap.String("collection", collection), zap.Error(err))
				continue
			}
			fn(toDocs(snaps))
		}
	}()

	return docstore.SubscriptionFunc(func() {
		cancel()
		wg.Wait()
	}), nil
}

func (s *Store) Close(context.Context) error {
	return s.client.Close()
}

type fsTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *fsTx) Get(collection, id string) (docstore.Doc, bool, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if err != nil {
		if isNotFound(err) {
			return docstore.Doc{ID: id}, false, nil
		}
		return docstore.Doc{}, false, err
	}
	return toDoc(snap), true, nil
}

func (t *fsTx) Set(collection, id string, data map[string]any, merge bool) error {
	ref := t.client.Collection(collection).Doc(id)
	if merge {
		return t.tx.Set(ref, data, firestore.MergeAll)
	}
	return t.tx.Set(ref, data)
}

func toDoc(snap *firestore.DocumentSnapshot) docstore.Doc {
	return docstore.Doc{ID: snap.Ref.ID, Data: snap.Data()}
}

func toDocs(snaps []*firestore.DocumentSnapshot) []docstore.Doc {
	docs := make([]docstore.Doc, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDoc(snap))
	}
	return docs
}
