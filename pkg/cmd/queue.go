package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	// SQLite driver for the embedded queue provider.
	_ "modernc.org/sqlite"

	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/queue/memory"
	qredis "github.com/dripflow/dripflow/pkg/queue/redis"
	qsqlite "github.com/dripflow/dripflow/pkg/queue/sqlite"
)

// NewQueue creates a queue provider from a queue URL:
//
//	redis://host:port       Redis-backed, for multi-worker deployments
//	sqlite:///path/to.db    embedded single-node durability
//	memory://               process-local, development only
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string) queue.Queue {
	switch parseProvider(queueURL) {
	case "redis", "rediss":
		opts, err := goredis.ParseURL(queueURL)
		if err != nil {
			panic("invalid Redis queue URL: " + err.Error())
		}

		q, err := qredis.NewQueue(ctx, goredis.NewClient(opts), "", logger)
		if err != nil {
			panic("failed to initialize Redis queue: " + err.Error())
		}

		return q
	case "sqlite":
		path := strings.TrimPrefix(queueURL, "sqlite://")

		db, err := sql.Open("sqlite", path)
		if err != nil {
			panic("failed to open SQLite queue database: " + err.Error())
		}

		// The claim transaction assumes a single connection.
		db.SetMaxOpenConns(1)

		q, err := qsqlite.NewQueue(ctx, db)
		if err != nil {
			panic("failed to initialize SQLite queue: " + err.Error())
		}

		return q
	default:
		return memory.NewQueue()
	}
}
