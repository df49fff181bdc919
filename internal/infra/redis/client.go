package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	logger.Info("redis connected", zap.String("addr", addr), zap.Int("db", db))
	return client, nil
}

// Options configures the live stores.
type Options struct {
	// Prefix namespaces every key and channel, default "live".
	Prefix string
	// TTL expires idle session data; zero keeps it forever.
	TTL    time.Duration
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "live"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type keyspace string

func (k keyspace) session(id string) string     { return string(k) + ":session:" + id }
func (k keyspace) code(code string) string      { return string(k) + ":code:" + code }
func (k keyspace) record(sid, id string) string { return string(k) + ":progress:" + sid + ":" + id }
func (k keyspace) records(sid string) string    { return string(k) + ":progress:" + sid + ":ids" }
func (k keyspace) sessionFeed(id string) string { return string(k) + ":events:session:" + id }
func (k keyspace) progressFeed(sid string) string {
	return string(k) + ":events:progress:" + sid
}
