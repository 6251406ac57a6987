package engine

import (
	"errors"

	"github.com/KevoDB/treekv/pkg/btree"
)

var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")
	// ErrKeyNotFound is returned when a key is absent or deleted
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidKey is returned for an empty or over-length key
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue is returned for a nil or empty value
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidRange is returned when start lies beyond end for the direction
	ErrInvalidRange = errors.New("invalid iterator range")
	// ErrLobTooLarge is returned for a value above the configured LOB limit
	ErrLobTooLarge = btree.ErrLobTooLarge
	// ErrOrphanData is returned when data files exist without a recovery log
	ErrOrphanData = errors.New("data files present without recovery log")
)
