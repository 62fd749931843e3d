package workproduct

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrFileNotFound is returned for unknown shared-file ids.
var ErrFileNotFound = errors.New("shared file not found")

// SharedFile describes one uploaded output.
type SharedFile struct {
	ID          string    `json:"id"`
	MissionID   string    `json:"missionId"`
	AgentID     string    `json:"agentId"`
	StepID      string    `json:"stepId"`
	OutputName  string    `json:"outputName"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mimeType"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	StoragePath string    `json:"storagePath,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FileStore is the durable shared file store.
type FileStore interface {
	Put(ctx context.Context, file *SharedFile, data io.Reader) error
	Open(ctx context.Context, id string) (*SharedFile, io.ReadCloser, error)
	List(ctx context.Context, missionID string) ([]*SharedFile, error)
}

// LocalFileStore 使用本地文件系统保存共享文件.
// 布局: <base>/<missionID>/<id>/<name>, 元数据索引保存在 <base>/index.json.
type LocalFileStore struct {
	basePath string
	mu       sync.RWMutex
	index    map[string]*SharedFile
}

// NewLocalFileStore creates the base directory and loads the index.
func NewLocalFileStore(basePath string) (*LocalFileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	store := &LocalFileStore{
		basePath: basePath,
		index:    make(map[string]*SharedFile),
	}
	if err := store.loadIndex(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *LocalFileStore) Put(ctx context.Context, file *SharedFile, data io.Reader) error {
	if file == nil || file.ID == "" || file.Name == "" {
		return fmt.Errorf("shared file requires id and name")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 读取所有数据以计算校验和大小
	buf := new(bytes.Buffer)
	size, err := io.Copy(buf, data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	hash := sha256.Sum256(buf.Bytes())

	mission := file.MissionID
	if mission == "" {
		mission = "_"
	}
	dir := filepath.Join(s.basePath, SanitizeName(mission), file.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create file dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(file.Name))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	file.Size = size
	file.Checksum = hex.EncodeToString(hash[:])
	file.StoragePath = path
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *file
	s.index[file.ID] = &stored
	return s.saveIndex()
}

func (s *LocalFileStore) Open(ctx context.Context, id string) (*SharedFile, io.ReadCloser, error) {
	s.mu.RLock()
	file, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	f, err := os.Open(file.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data: %w", err)
	}
	meta := *file
	return &meta, f, nil
}

func (s *LocalFileStore) List(ctx context.Context, missionID string) ([]*SharedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SharedFile
	for _, f := range s.index {
		if missionID != "" && f.MissionID != missionID {
			continue
		}
		meta := *f
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *LocalFileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.basePath, "index.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	return json.Unmarshal(data, &s.index)
}

// saveIndex 调用方需持有写锁
func (s *LocalFileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	tmp := filepath.Join(s.basePath, "index.json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.basePath, "index.json"))
}

var _ FileStore = (*LocalFileStore)(nil)
