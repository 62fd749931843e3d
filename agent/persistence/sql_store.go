package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRecord is the row layout of the documents table. The schema is
// owned by internal/migration; AutoMigrate exists for tests and sqlite.
type documentRecord struct {
	Collection string    `gorm:"primaryKey;size:128"`
	ID         string    `gorm:"primaryKey;size:255"`
	Data       string    `gorm:"type:text;not null"`
	Version    int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (documentRecord) TableName() string {
	return "documents"
}

func (r *documentRecord) toDocument() *Document {
	return &Document{
		Collection: r.Collection,
		ID:         r.ID,
		Data:       []byte(r.Data),
		Version:    r.Version,
		UpdatedAt:  r.UpdatedAt,
	}
}

// SQLStore is a GORM-backed implementation of DocumentStore.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps an open GORM handle.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// AutoMigrate creates the documents table if needed.
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&documentRecord{})
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Save persists a document, bumping its version
func (s *SQLStore) Save(ctx context.Context, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing documentRecord
		err := tx.Where("collection = ? AND id = ?", doc.Collection, doc.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			version = 1
			return tx.Create(&documentRecord{
				Collection: doc.Collection,
				ID:         doc.ID,
				Data:       string(doc.Data),
				Version:    version,
				UpdatedAt:  now,
			}).Error
		case err != nil:
			return err
		}

		version = existing.Version + 1
		return tx.Model(&documentRecord{}).
			Where("collection = ? AND id = ?", doc.Collection, doc.ID).
			Updates(map[string]any{"data": string(doc.Data), "version": version, "updated_at": now}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.Key(), err)
	}

	doc.Version = version
	doc.UpdatedAt = now
	return nil
}

// Load retrieves a document
func (s *SQLStore) Load(ctx context.Context, collection, id string) (*Document, error) {
	var rec documentRecord
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toDocument(), nil
}

// Delete removes a document
func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&documentRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Query retrieves documents whose field equals value. The payload column is
// plain text across dialects, so the field filter runs after the collection
// scan.
func (s *SQLStore) Query(ctx context.Context, collection, field string, value any) ([]*Document, error) {
	var recs []documentRecord
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}

	result := make([]*Document, 0, len(recs))
	for i := range recs {
		if matchField([]byte(recs[i].Data), field, value) {
			result = append(result, recs[i].toDocument())
		}
	}
	return result, nil
}

// CompareAndSwap writes the document if the stored version matches
func (s *SQLStore) CompareAndSwap(ctx context.Context, doc *Document, expectedVersion int64) error {
	if err := doc.validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	db := s.db.WithContext(ctx)

	var res *gorm.DB
	if expectedVersion == 0 {
		res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&documentRecord{
			Collection: doc.Collection,
			ID:         doc.ID,
			Data:       string(doc.Data),
			Version:    1,
			UpdatedAt:  now,
		})
	} else {
		res = db.Model(&documentRecord{}).
			Where("collection = ? AND id = ? AND version = ?", doc.Collection, doc.ID, expectedVersion).
			Updates(map[string]any{"data": string(doc.Data), "version": expectedVersion + 1, "updated_at": now})
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	doc.Version = expectedVersion + 1
	doc.UpdatedAt = now
	return nil
}

// Ensure SQLStore implements DocumentStore
var _ DocumentStore = (*SQLStore)(nil)
