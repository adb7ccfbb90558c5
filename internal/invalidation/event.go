// Package invalidation defines catalog-change events that invalidate
// cached assets.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	// OpImageUpdated means a product image was replaced; its cached
	// resolution is stale.
	OpImageUpdated = "image_updated"
	// OpImageDeleted means a product image was removed.
	OpImageDeleted = "image_deleted"
	// OpCatalogCleared empties the whole cache (logout, bulk reimport).
	OpCatalogCleared = "catalog_cleared"
)

type Event struct {
	Version  int       `json:"version"`
	Op       string    `json:"op"`
	ImageURL string    `json:"image_url,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpImageUpdated, OpImageDeleted:
		if strings.TrimSpace(e.ImageURL) == "" {
			return fmt.Errorf("image_url is required for op %s", e.Op)
		}
	case OpCatalogCleared:
	default:
		return fmt.Errorf("op must be %s|%s|%s", OpImageUpdated, OpImageDeleted, OpCatalogCleared)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
