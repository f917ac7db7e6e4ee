package cmd

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dripflow/dripflow/pkg/subscriber"
	"github.com/dripflow/dripflow/pkg/subscriber/memory"
	subredis "github.com/dripflow/dripflow/pkg/subscriber/redis"
)

// NewSubscriberProvider creates a subscriber snapshot provider from a URL:
//
//	redis://host:port   snapshots pushed into Redis by the platform
//	memory://           process-local, development only
func NewSubscriberProvider(ctx context.Context, subscriberURL string) subscriber.Provider {
	switch parseProvider(subscriberURL) {
	case "redis", "rediss":
		opts, err := goredis.ParseURL(subscriberURL)
		if err != nil {
			panic("invalid Redis subscriber URL: " + err.Error())
		}

		p, err := subredis.NewProvider(ctx, goredis.NewClient(opts), "")
		if err != nil {
			panic("failed to initialize Redis subscriber provider: " + err.Error())
		}

		return p
	default:
		return memory.NewProvider()
	}
}
