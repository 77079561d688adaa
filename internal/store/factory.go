package store

import (
	"fmt"

	"dirsafe/internal/config"
)

// NewPersisterFromConfig creates a Persister based on the store config
// type.
func NewPersisterFromConfig(cfg config.StoreConfig, logger Logger) (Persister, error) {
	switch cfg.Type {
	case "json":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for json store")
		}
		return NewJSONPersister(cfg.Path, logger), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite store")
		}
		return NewSQLitePersister(cfg.Path)
	case "memory":
		return NewSQLitePersister(":memory:")
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
