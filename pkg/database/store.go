package database

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"signalement-platform/pkg/config"
	"signalement-platform/pkg/docstore"
	"signalement-platform/pkg/docstore/fsstore"
	"signalement-platform/pkg/docstore/memstore"
	"signalement-platform/pkg/docstore/mongostore"
)

const (
	DriverMongo     = "mongo"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// OpenStore builds the document store selected by STORE_DRIVER. The
// firebase app is returned for the firestore driver so callers can reuse
// it; it is nil otherwise.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (docstore.Store, *firebase.App, error) {
	switch cfg.Store.Driver {
	case DriverMongo:
		db, err := ConnectMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB, log)
		if err != nil {
			return nil, nil, err
		}
		return mongostore.New(db, log), nil, nil

	case DriverFirestore:
		app, err := NewFirebaseApp(ctx, cfg.Firebase)
		if err != nil {
			return nil, nil, err
		}
		client, err := NewFirestoreClient(ctx, app, cfg.Firebase)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to Firestore",
			zap.String("project", cfg.Firebase.ProjectID),
			zap.String("database", cfg.Firebase.FirestoreDatabase))
		return fsstore.New(client, log), app, nil

	case DriverMemory:
		log.Warn("using in-memory document store, data is lost on exit")
		return memstore.New(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
