package database

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"signalement-platform/pkg/config"
	"signalement-platform/pkg/docstore/memstore"
)

func TestOpenStoreMemory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: DriverMemory}}
	store, app, err := OpenStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*memstore.Store); !ok {
		t.Errorf("store = %T", store)
	}
	if app != nil {
		t.Error("memory driver should not create a firebase app")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "cassandra"}}
	if _, _, err := OpenStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}
