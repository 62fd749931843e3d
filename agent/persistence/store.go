// Package persistence provides the document store used by the mission engine
// for work products, step events, manifests and conflict records.
//
// Every document carries a version. CompareAndSwap writes succeed only when
// the stored version matches, which lets replicas append to shared records
// without losing updates.
//
// Supported backends:
// - Memory: For development and testing (default)
// - Redis: WATCH/MULTI based versioning
// - SQL: GORM over postgres, mysql or sqlite
// - Mongo: MongoDB collection with conditional updates
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrStoreClosed     = errors.New("store is closed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrVersionConflict = errors.New("version conflict")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// Well-known collections.
const (
	CollectionWorkProducts    = "work_products"
	CollectionStepEvents      = "step_events"
	CollectionMissionFiles    = "mission_files"
	CollectionConflicts       = "conflicts"
	CollectionDependencyAudit = "dependency_audit"
)

// Document is a JSON payload stored under (Collection, ID).
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewDocument encodes v as the document payload.
func NewDocument(collection, id string, v any) (*Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s/%s: %w", collection, id, err)
	}
	return &Document{Collection: collection, ID: id, Data: data}, nil
}

// Decode unmarshals the payload into v.
func (d *Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Key returns "collection/id".
func (d *Document) Key() string {
	return d.Collection + "/" + d.ID
}

func (d *Document) validate() error {
	if d == nil || d.Collection == "" || d.ID == "" {
		return ErrInvalidInput
	}
	if len(d.Data) == 0 || !json.Valid(d.Data) {
		return ErrInvalidInput
	}
	return nil
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// DocumentStore persists versioned JSON documents.
type DocumentStore interface {
	Store

	// Save upserts the document and bumps its version. doc.Version is
	// updated to the stored version.
	Save(ctx context.Context, doc *Document) error

	// Load returns ErrNotFound when the document does not exist.
	Load(ctx context.Context, collection, id string) (*Document, error)

	Delete(ctx context.Context, collection, id string) error

	// Query returns documents whose top-level (or dotted) JSON field
	// equals value. An empty field returns the whole collection.
	Query(ctx context.Context, collection, field string, value any) ([]*Document, error)

	// CompareAndSwap writes doc only if the stored version equals
	// expectedVersion; 0 means the document must not exist yet. On success
	// doc.Version is expectedVersion+1. Mismatches return ErrVersionConflict.
	CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error
}

// matchField reports whether the JSON payload has field == value. Values
// are compared by their printed form so 3 matches 3.0 after a JSON round trip.
func matchField(data json.RawMessage, field string, value any) bool {
	if field == "" {
		return true
	}
	var cur any
	if err := json.Unmarshal(data, &cur); err != nil {
		return false
	}
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = m[part]; !ok {
			return false
		}
	}
	return fmt.Sprint(cur) == fmt.Sprint(value)
}
