// Package backend picks a storage.UserStore implementation from the scheme of
// the configured database URL.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hongminglow/solace-be/internal/storage"
	"github.com/hongminglow/solace-be/internal/storage/memory"
	"github.com/hongminglow/solace-be/internal/storage/mongo"
	"github.com/hongminglow/solace-be/internal/storage/postgres"
)

// Open connects to the store named by databaseURL. mongoDatabase is used
// when a MongoDB URL carries no database path.
func Open(ctx context.Context, databaseURL, mongoDatabase string) (storage.UserStore, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return postgres.NewUserStore(ctx, databaseURL)
	case "mongodb", "mongodb+srv":
		return mongo.NewUserStore(ctx, databaseURL, mongoDatabaseName(u, mongoDatabase))
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

func mongoDatabaseName(u *url.URL, fallback string) string {
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return fallback
}
