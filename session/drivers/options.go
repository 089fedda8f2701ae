package drivers

import (
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/craftbot/supabase"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

// storeConfig holds configuration for session stores.
type storeConfig struct {
	redisClient    *redis.Client
	redisTTL       time.Duration
	redisPrefix    string
	sqliteDB       *sql.DB
	sqlitePath     string
	supabaseClient *supabase.Client
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets a retention TTL for Redis session keys. Zero keeps records indefinitely.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithRedisKeyPrefix namespaces every Redis key.
func WithRedisKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.redisPrefix = prefix
	}
}

// WithSQLiteDB uses an already opened database handle for the SQLite store.
func WithSQLiteDB(db *sql.DB) StoreOption {
	return func(c *storeConfig) {
		c.sqliteDB = db
	}
}

// WithSQLitePath opens the SQLite database at path.
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.sqlitePath = path
	}
}

// WithSupabaseClient sets the Supabase client for the Supabase store.
func WithSupabaseClient(client *supabase.Client) StoreOption {
	return func(c *storeConfig) {
		c.supabaseClient = client
	}
}
