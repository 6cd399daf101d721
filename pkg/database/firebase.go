package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"signalement-platform/pkg/config"
)

// NewFirebaseApp uses the credentials file when one is configured and
// application default credentials otherwise.
func NewFirebaseApp(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}
	return app, nil
}

// NewFirestoreClient opens the configured database. The firebase app only
// knows the default database, so named ones go through the firestore
// package directly.
func NewFirestoreClient(ctx context.Context, app *firebase.App, cfg config.FirebaseConfig) (*firestore.Client, error) {
	if cfg.FirestoreDatabase == "" || cfg.FirestoreDatabase == firestore.DefaultDatabaseID {
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		return client, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.FirestoreDatabase, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open firestore database %s: %w", cfg.FirestoreDatabase, err)
	}
	return client, nil
}
