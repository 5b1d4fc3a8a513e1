package memory

import (
	"context"
	"fmt"

	"github.com/fixwise/manualiq/pkg/memory/consts"
	"github.com/fixwise/manualiq/pkg/memory/inmemory"
	mongomem "github.com/fixwise/manualiq/pkg/memory/mongo"
	"github.com/fixwise/manualiq/pkg/memory/postgres"
	"github.com/fixwise/manualiq/pkg/memory/redis"
	"github.com/fixwise/manualiq/pkg/memory/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Type string

const (
	TypeInMemory Type = "inmemory"
	TypeRedis    Type = "redis"
	TypeMongo    Type = "mongo"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
)

// Config holds configuration for memory adapters.
type Config struct {
	Type             Type
	ConnectionString string
	DBName           string
}

// NewFactory creates a new memory adapter based on the configuration.
func NewFactory(ctx context.Context, cfg Config) (Memory, error) {
	switch cfg.Type {
	case TypeInMemory, "":
		return inmemory.New(), nil

	case TypeRedis:
		opts, err := goredis.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return redis.New(client), nil

	case TypeMongo:
		opts := options.Client().ApplyURI(cfg.ConnectionString)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to ping mongo: %w", err)
		}
		dbName := consts.DefaultDBName
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		return mongomem.New(client, dbName, consts.TableNameMessages), nil

	case TypeSQLite:
		return sqlite.New(cfg.ConnectionString)

	case TypePostgres:
		return postgres.New(cfg.ConnectionString)

	default:
		return nil, fmt.Errorf("unsupported memory type: %s", cfg.Type)
	}
}
