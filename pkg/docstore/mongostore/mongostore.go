// Package mongostore implements docstore.Store on MongoDB. Transactions use
// Session.WithTransaction, which re-runs the body on transient errors such
// as write conflicts. Live subscriptions are change streams; each change
// re-reads the whole collection so subscribers always get full snapshots.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"signalement-platform/pkg/docstore"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.uber.org/zap"
)

const resubscribeDelay = 2 * time.Second

type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

func New(db *mongo.Database, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: db.Client(), db: db, log: log.Named("mongostore")}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, idFilter(id)).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Doc{}, docstore.ErrNotFound
		}
		return docstore.Doc{}, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return toDoc(raw), nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Doc, error) {
	filter := bson.M{}
	for _, f := range filters {
		filter[f.Field] = f.Value
	}
	return s.find(ctx, collection, filter)
}

func (s *Store) find(ctx context.Context, collection string, filter bson.M) ([]docstore.Doc, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	docs := make([]docstore.Doc, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDoc(raw))
	}
	return docs, nil
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	oid := primitive.NewObjectID()
	body := bson.M{}
	for k, v := range data {
		body[k] = v
	}
	body["_id"] = oid
	if _, err := s.db.Collection(collection).InsertOne(ctx, body); err != nil {
		return "", fmt.Errorf("insert %s: %w", collection, err)
	}
	return oid.Hex(), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	result, err := s.db.Collection(collection).UpdateOne(ctx, idFilter(id), bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{ctx: sc, db: s.db})
	}, opts)
	if err != nil {
		if isTransient(err) {
			return fmt.Errorf("%w: %v", docstore.ErrTxAborted, err)
		}
		return err
	}
	return nil
}

func isTransient(err error) bool {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		return labeled.HasErrorLabel(driver.TransientTransactionError) ||
			labeled.HasErrorLabel(driver.UnknownTransactionCommitResult)
	}
	return false
}

// Subscribe delivers an initial snapshot and then one snapshot per change
// event. A broken change stream is reopened after a short delay until the
// subscription is cancelled.
func (s *Store) Subscribe(ctx context.Context, collection string, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliver(ctx, collection, fn)
		for {
			if stream != nil {
				s.drain(ctx, collection, stream, fn)
				stream.Close(context.Background())
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			stream, err = s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
			if err != nil {
				s.log.Warn("reopen change stream failed", zap.String("collection", collection), zap.Error(err))
				stream = nil
				continue
			}
			// Changes made while the stream was down are folded into this snapshot.
			s.deliver(ctx, collection, fn)
		}
	}()

	return docstore.SubscriptionFunc(func() {
		cancel()
		wg.Wait()
	}), nil
}

func (s *Store) drain(ctx context.Context, collection string, stream *mongo.ChangeStream, fn docstore.SnapshotFunc) {
	for stream.Next(ctx) {
		s.deliver(ctx, collection, fn)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.log.Warn("change stream interrupted", zap.String("collection", collection), zap.Error(err))
	}
}

func (s *Store) deliver(ctx context.Context, collection string, fn docstore.SnapshotFunc) {
	docs, err := s.find(ctx, collection, bson.M{})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("snapshot read failed", zap.String("collection", collection), zap.Error(err))
		}
		return
	}
	fn(docs)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoTx struct {
	ctx    mongo.SessionContext
	db     *mongo.Database
	writes bool
}

func (t *mongoTx) Get(collection, id string) (docstore.Doc, bool, error) {
	if t.writes {
		return docstore.Doc{}, false, errors.New("mongostore: transaction read after write")
	}
	var raw bson.M
	err := t.db.Collection(collection).FindOne(t.ctx, idFilter(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Doc{ID: id}, false, nil
	}
	if err != nil {
		return docstore.Doc{}, false, err
	}
	return toDoc(raw), true, nil
}

func (t *mongoTx) Set(collection, id string, data map[string]any, merge bool) error {
	t.writes = true
	coll := t.db.Collection(collection)
	if merge {
		_, err := coll.UpdateOne(t.ctx, idFilter(id), bson.M{"$set": bson.M(data)}, options.Update().SetUpsert(true))
		return err
	}
	_, err := coll.ReplaceOne(t.ctx, idFilter(id), bson.M(data), options.Replace().SetUpsert(true))
	return err
}

// idFilter matches ObjectID keys written by Add as well as the plain
// string keys used for singleton documents such as counters.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func toDoc(raw bson.M) docstore.Doc {
	d := docstore.Doc{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			d.ID = idString(v)
			continue
		}
		d.Data[k] = plain(v)
	}
	return d
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// plain converts driver-specific types to the ones docstore consumers expect.
func plain(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = plain(inner)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	case int32:
		return int64(t)
	}
	return v
}
