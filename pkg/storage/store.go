package storage

import (
	"github.com/cockroachdb/errors"

	"github.com/cuemby/digest/pkg/types"
)

// ErrNotFound is returned when a group has no stored configuration
var ErrNotFound = errors.New("not found")

// Store defines the interface for group configuration storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Groups
	GetGroup(id types.GroupID) (*types.GroupConfig, error)
	PutGroup(id types.GroupID, cfg *types.GroupConfig) error
	DeleteGroup(id types.GroupID) error
	ListGroups() (map[types.GroupID]*types.GroupConfig, error)

	// ListGroupKeys returns every stored key, valid or not
	ListGroupKeys() ([]string, error)

	// CleanupInvalidGroups removes records with malformed keys or values
	// and returns how many were removed
	CleanupInvalidGroups() (int, error)

	// Utility
	Close() error
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}
