package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of DocumentStore.
// Suitable for distributed production deployments.
// Each document is a hash {data, version, updated_at}; a set per collection
// indexes the ids. Versioned writes use WATCH/MULTI.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "missionflow:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "doc:"}
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// docKey returns the Redis key for a document
func (s *RedisStore) docKey(collection, id string) string {
	return s.keyPrefix + "data:" + collection + ":" + id
}

// indexKey returns the Redis key for a collection's id index
func (s *RedisStore) indexKey(collection string) string {
	return s.keyPrefix + "index:" + collection
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, doc *Document, now time.Time) {
	key := s.docKey(doc.Collection, doc.ID)
	pipe.HSet(ctx, key,
		"data", string(doc.Data),
		"updated_at", now.UnixNano(),
	)
	pipe.SAdd(ctx, s.indexKey(doc.Collection), doc.ID)
}

// Save persists a document, bumping its version
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}

	now := time.Now()
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, doc, now)
		incr = pipe.HIncrBy(ctx, s.docKey(doc.Collection, doc.ID), "version", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.Key(), err)
	}

	doc.Version = incr.Val()
	doc.UpdatedAt = now
	return nil
}

// Load retrieves a document
func (s *RedisStore) Load(ctx context.Context, collection, id string) (*Document, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRedisDocument(collection, id, fields)
}

func decodeRedisDocument(collection, id string, fields map[string]string) (*Document, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt version on %s/%s: %w", collection, id, err)
	}
	nanos, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &Document{
		Collection: collection,
		ID:         id,
		Data:       []byte(fields["data"]),
		Version:    version,
		UpdatedAt:  time.Unix(0, nanos),
	}, nil
}

// Delete removes a document
func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(collection, id))
		pipe.SRem(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Query retrieves documents whose field equals value, ordered by id
func (s *RedisStore) Query(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(collection, id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	result := make([]*Document, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeRedisDocument(collection, ids[i], fields)
		if err != nil {
			continue
		}
		if matchField(doc.Data, field, value) {
			result = append(result, doc)
		}
	}
	return result, nil
}

// CompareAndSwap writes the document if the stored version matches
func (s *RedisStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	if err := doc.validate(); err != nil {
		return err
	}

	key := s.docKey(doc.Collection, doc.ID)
	now := time.Now()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, doc, now)
			pipe.HSet(ctx, key, "version", expectedVersion+1)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}

	doc.Version = expectedVersion + 1
	doc.UpdatedAt = now
	return nil
}

// Ensure RedisStore implements DocumentStore
var _ DocumentStore = (*RedisStore)(nil)
