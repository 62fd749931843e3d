package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type payload struct {
	AgentID string   `json:"agentId"`
	StepID  string   `json:"stepId"`
	Items   []string `json:"items,omitempty"`
}

func mustDoc(t *testing.T, collection, id string, v any) *Document {
	t.Helper()
	doc, err := NewDocument(collection, id, v)
	require.NoError(t, err)
	return doc
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store DocumentStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("SaveBumpsVersion", func(t *testing.T) {
		doc := mustDoc(t, "wp", "a1_s1", payload{AgentID: "a1", StepID: "s1"})
		require.NoError(t, store.Save(ctx, doc))
		assert.Equal(t, int64(1), doc.Version)

		require.NoError(t, store.Save(ctx, doc))
		assert.Equal(t, int64(2), doc.Version)

		loaded, err := store.Load(ctx, "wp", "a1_s1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)

		var got payload
		require.NoError(t, loaded.Decode(&got))
		assert.Equal(t, "s1", got.StepID)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := store.Load(ctx, "wp", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Query", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, mustDoc(t, "q", "1", payload{AgentID: "a1", StepID: "s1"})))
		require.NoError(t, store.Save(ctx, mustDoc(t, "q", "2", payload{AgentID: "a2", StepID: "s2"})))
		require.NoError(t, store.Save(ctx, mustDoc(t, "q", "3", payload{AgentID: "a1", StepID: "s3"})))

		docs, err := store.Query(ctx, "q", "agentId", "a1")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "1", docs[0].ID)
		assert.Equal(t, "3", docs[1].ID)

		all, err := store.Query(ctx, "q", "", nil)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := store.Query(ctx, "empty-collection", "agentId", "a1")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		doc := mustDoc(t, "cas", "m1", payload{Items: []string{"a"}})
		require.NoError(t, store.CompareAndSwap(ctx, doc, 0))
		assert.Equal(t, int64(1), doc.Version)

		again := mustDoc(t, "cas", "m1", payload{Items: []string{"b"}})
		assert.ErrorIs(t, store.CompareAndSwap(ctx, again, 0), ErrVersionConflict)

		next := mustDoc(t, "cas", "m1", payload{Items: []string{"a", "b"}})
		require.NoError(t, store.CompareAndSwap(ctx, next, 1))
		assert.Equal(t, int64(2), next.Version)

		stale := mustDoc(t, "cas", "m1", payload{Items: []string{"x"}})
		assert.ErrorIs(t, store.CompareAndSwap(ctx, stale, 1), ErrVersionConflict)

		loaded, err := store.Load(ctx, "cas", "m1")
		require.NoError(t, err)
		var got payload
		require.NoError(t, loaded.Decode(&got))
		assert.Equal(t, []string{"a", "b"}, got.Items)
	})

	t.Run("ConcurrentAppendsAreNotLost", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for {
					var cur payload
					var version int64
					existing, err := store.Load(ctx, "manifest", "mission-1")
					switch {
					case errors.Is(err, ErrNotFound):
					case err != nil:
						continue
					default:
						version = existing.Version
						_ = existing.Decode(&cur)
					}
					cur.Items = append(cur.Items, fmt.Sprintf("file-%d", i))
					doc, _ := NewDocument("manifest", "mission-1", cur)
					err = store.CompareAndSwap(ctx, doc, version)
					if err == nil {
						return
					}
					if !errors.Is(err, ErrVersionConflict) {
						time.Sleep(time.Millisecond)
					}
				}
			}(i)
		}
		wg.Wait()

		loaded, err := store.Load(ctx, "manifest", "mission-1")
		require.NoError(t, err)
		var got payload
		require.NoError(t, loaded.Decode(&got))
		assert.Len(t, got.Items, writers)
		assert.Equal(t, int64(writers), loaded.Version)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, mustDoc(t, "del", "x", payload{})))
		require.NoError(t, store.Delete(ctx, "del", "x"))
		_, err := store.Load(ctx, "del", "x")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "del", "x"), ErrNotFound)

		docs, err := store.Query(ctx, "del", "", nil)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, &Document{Collection: "c"}), ErrInvalidInput)
		assert.ErrorIs(t, store.CompareAndSwap(ctx, &Document{Collection: "c", ID: "1", Data: []byte("{")}, 0), ErrInvalidInput)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreContract(t, store)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test:")
	defer store.Close()

	runStoreContract(t, store)

	assert.True(t, mr.Exists("test:doc:data:wp:a1_s1"))
}

func TestSQLStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "docs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewSQLStore(db)
	require.NoError(t, store.AutoMigrate())
	defer store.Close()

	runStoreContract(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MISSIONFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MISSIONFLOW_TEST_MONGO_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database(fmt.Sprintf("missionflow_test_%d", time.Now().UnixNano()))
	defer func() { _ = db.Drop(context.Background()) }()

	store := NewMongoStore(db)
	require.NoError(t, store.EnsureIndexes(context.Background()))
	runStoreContract(t, store)
}

func TestNewDocumentStore(t *testing.T) {
	store, err := NewDocumentStore(StoreTypeMemory, Backends{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewDocumentStore(StoreTypeRedis, Backends{})
	assert.Error(t, err)

	_, err = NewDocumentStore("bogus", Backends{})
	assert.Error(t, err)
}

func TestMatchField(t *testing.T) {
	data := []byte(`{"agentId":"a1","count":3,"meta":{"status":"pending"}}`)
	assert.True(t, matchField(data, "agentId", "a1"))
	assert.True(t, matchField(data, "count", 3))
	assert.True(t, matchField(data, "meta.status", "pending"))
	assert.False(t, matchField(data, "meta.missing", "pending"))
	assert.False(t, matchField(data, "agentId", "a2"))
	assert.True(t, matchField(data, "", nil))
}
