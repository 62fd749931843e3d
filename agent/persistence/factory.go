package persistence

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// Backends carries the already-connected clients a store may wrap.
type Backends struct {
	Redis          redis.UniversalClient
	RedisKeyPrefix string
	DB             *gorm.DB
	Mongo          *mongo.Database
}

// NewDocumentStore creates a DocumentStore for the configured backend type.
func NewDocumentStore(storeType StoreType, b Backends) (DocumentStore, error) {
	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(b.Redis, b.RedisKeyPrefix), nil
	case StoreTypeSQL:
		if b.DB == nil {
			return nil, fmt.Errorf("sql store requires a database handle")
		}
		return NewSQLStore(b.DB), nil
	case StoreTypeMongo:
		if b.Mongo == nil {
			return nil, fmt.Errorf("mongo store requires a mongo database")
		}
		return NewMongoStore(b.Mongo), nil
	default:
		return nil, fmt.Errorf("unsupported document store type: %s", storeType)
	}
}
