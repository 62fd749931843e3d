package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// mongoRecord keeps the raw JSON next to the decoded payload: "data" serves
// field queries, "raw" round-trips the exact bytes.
type mongoRecord struct {
	Key        string    `bson:"_id"`
	Collection string    `bson:"collection"`
	ID         string    `bson:"doc_id"`
	Raw        string    `bson:"raw"`
	Version    int64     `bson:"version"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (r *mongoRecord) toDocument() *Document {
	return &Document{
		Collection: r.Collection,
		ID:         r.ID,
		Data:       []byte(r.Raw),
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt,
	}
}

// MongoStore stores all documents in a single MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore uses collection "documents" of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("documents")}
}

// EnsureIndexes creates the lookup index used by Query.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "doc_id", Value: 1}},
	})
	return err
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.coll.Database().Client().Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func mongoKey(collection, id string) string {
	return collection + "/" + id
}

func decodePayload(data json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Save persists a document, bumping its version
func (s *MongoStore) Save(ctx context.Context, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	payload, err := decodePayload(doc.Data)
	if err != nil {
		return ErrInvalidInput
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"collection": doc.Collection,
			"doc_id":     doc.ID,
			"data":       payload,
			"raw":        string(doc.Data),
			"updated_at": now,
		},
		"$inc": bson.M{"version": int64(1)},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var rec mongoRecord
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": mongoKey(doc.Collection, doc.ID)}, update, opts).Decode(&rec)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.Key(), err)
	}

	doc.Version = rec.Version
	doc.UpdatedAt = now
	return nil
}

// Load retrieves a document
func (s *MongoStore) Load(ctx context.Context, collection, id string) (*Document, error) {
	var rec mongoRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": mongoKey(collection, id)}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toDocument(), nil
}

// Delete removes a document
func (s *MongoStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": mongoKey(collection, id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Query retrieves documents whose field equals value, ordered by id
func (s *MongoStore) Query(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	filter := bson.M{"collection": collection}
	if field != "" {
		filter["data."+field] = value
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "doc_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []mongoRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}

	result := make([]*Document, 0, len(recs))
	for i := range recs {
		result = append(result, recs[i].toDocument())
	}
	return result, nil
}

// CompareAndSwap writes the document if the stored version matches
func (s *MongoStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	if err := doc.validate(); err != nil {
		return err
	}
	payload, err := decodePayload(doc.Data)
	if err != nil {
		return ErrInvalidInput
	}

	now := time.Now().UTC()
	key := mongoKey(doc.Collection, doc.ID)

	if expectedVersion == 0 {
		_, err := s.coll.InsertOne(ctx, bson.M{
			"_id":        key,
			"collection": doc.Collection,
			"doc_id":     doc.ID,
			"data":       payload,
			"raw":        string(doc.Data),
			"version":    int64(1),
			"updated_at": now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
	} else {
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": key, "version": expectedVersion},
			bson.M{"$set": bson.M{
				"data":       payload,
				"raw":        string(doc.Data),
				"version":    expectedVersion + 1,
				"updated_at": now,
			}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrVersionConflict
		}
	}

	doc.Version = expectedVersion + 1
	doc.UpdatedAt = now
	return nil
}

// Ensure MongoStore implements DocumentStore
var _ DocumentStore = (*MongoStore)(nil)
