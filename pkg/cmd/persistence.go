// Package cmd provides shared provider factories for the dripflow
// binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/persistence/file"
	"github.com/dripflow/dripflow/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence provider from a database URL.
// postgres:// URLs get the PostgreSQL provider; anything else falls back
// to file persistence rooted at the URL path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize PostgreSQL persistence: " + err.Error())
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
