// Package store persists restream jobs in per-instance SQLite databases.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/gwlsn/restreamer/internal/config"
	"github.com/gwlsn/restreamer/internal/jobs"
)

// Opener returns a jobs.StoreOpener that keeps one database per instance
// under dataDir.
func Opener(dataDir string) jobs.StoreOpener {
	return func(instanceID string) (jobs.Store, error) {
		path := filepath.Join(dataDir, config.DatabaseFile(instanceID))
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", path, err)
		}
		return s, nil
	}
}
