package drivers

import (
	"fmt"

	"github.com/creastat/craftbot"
	"github.com/creastat/craftbot/session"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypeSupabase StoreType = "supabase"
)

// NewStore creates a new session.Store based on the given type.
// Redis requires WithRedisClient, SQLite requires WithSQLiteDB or WithSQLitePath,
// and Supabase requires WithSupabaseClient.
func NewStore(storeType StoreType, opts ...StoreOption) (session.Store, error) {
	config := &storeConfig{}

	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewInMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("redis store: missing client: %w", craftbot.ErrInvalidConfig)
		}
		store := NewRedisStore(config.redisClient, config.redisTTL)
		if config.redisPrefix != "" {
			store.prefix = config.redisPrefix
		}
		return store, nil

	case StoreTypeSQLite:
		var (
			store *SQLiteStore
			err   error
		)
		switch {
		case config.sqliteDB != nil:
			store, err = NewSQLiteStore(config.sqliteDB)
		case config.sqlitePath != "":
			store, err = OpenSQLiteStore(config.sqlitePath)
		default:
			return nil, fmt.Errorf("sqlite store: missing path: %w", craftbot.ErrInvalidConfig)
		}
		if err != nil {
			return nil, err
		}
		return store, nil

	case StoreTypeSupabase:
		if config.supabaseClient == nil {
			return nil, fmt.Errorf("supabase store: missing client: %w", craftbot.ErrInvalidConfig)
		}
		return NewSupabaseStore(config.supabaseClient), nil

	default:
		return nil, fmt.Errorf("%q: %w", storeType, craftbot.ErrInvalidStoreType)
	}
}
