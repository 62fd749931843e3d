package workproduct

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/missionflow/agent/persistence"
	"github.com/BaSui01/missionflow/internal/retry"
)

// Manifest lists every shared file of a mission.
type Manifest struct {
	MissionID string        `json:"missionId"`
	Files     []*SharedFile `json:"files"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// FilesUpdate is the shared-files notification payload: the full list
// plus the files this update added.
type FilesUpdate struct {
	MissionID string        `json:"missionId"`
	Files     []*SharedFile `json:"files"`
	Added     []*SharedFile `json:"added"`
}

// LoadManifest returns an empty manifest when none exists yet.
func LoadManifest(ctx context.Context, store persistence.DocumentStore, missionID string) (*Manifest, int64, error) {
	doc, err := store.Load(ctx, persistence.CollectionMissionFiles, missionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return &Manifest{MissionID: missionID}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load manifest %s: %w", missionID, err)
	}
	var m Manifest
	if err := doc.Decode(&m); err != nil {
		return nil, 0, fmt.Errorf("failed to decode manifest %s: %w", missionID, err)
	}
	return &m, doc.Version, nil
}

// appendManifest adds files to the mission manifest with compare-and-swap,
// retrying when another writer got there first. Files already listed (same
// id) are not duplicated.
func appendManifest(ctx context.Context, store persistence.DocumentStore, r retry.Retryer, missionID string, added []*SharedFile) (*Manifest, error) {
	return retry.DoWithResultTyped(r, ctx, func() (*Manifest, error) {
		m, version, err := LoadManifest(ctx, store, missionID)
		if err != nil {
			return nil, err
		}

		seen := make(map[string]bool, len(m.Files))
		for _, f := range m.Files {
			seen[f.ID] = true
		}
		for _, f := range added {
			if !seen[f.ID] {
				m.Files = append(m.Files, f)
				seen[f.ID] = true
			}
		}
		m.UpdatedAt = time.Now()

		doc, err := persistence.NewDocument(persistence.CollectionMissionFiles, missionID, m)
		if err != nil {
			return nil, err
		}
		if err := store.CompareAndSwap(ctx, doc, version); err != nil {
			return nil, err
		}
		return m, nil
	})
}
