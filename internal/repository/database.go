package repository

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"
)

// mangoIndexes backs the selectors used by the repositories.
var mangoIndexes = map[string][]string{
	"user-username":           {"doc_type", "username"},
	"user-email":              {"doc_type", "email"},
	"subscription-channel":    {"doc_type", "channel_id"},
	"subscription-subscriber": {"doc_type", "subscriber_id"},
}

// EnsureDatabase creates dbName if missing and installs the Mango indexes.
// It returns true when the database was created.
func EnsureDatabase(ctx context.Context, client *kivik.Client, dbName string) (bool, error) {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}

	created := false
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return false, fmt.Errorf("failed to create database: %w", err)
		}
		created = true
	}

	db := client.DB(dbName)
	for name, fields := range mangoIndexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, "accounts", name, index); err != nil {
			return created, fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return created, nil
}
