package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks deployment errors: missing config files, missing
	// mandatory keys, schema mismatches. Fatal at construction time.
	ErrConfig = errors.New("configuration error")
	// ErrShardCorrupt marks shard-level I/O or shape errors. The shard is
	// skipped, the search continues.
	ErrShardCorrupt = errors.New("shard corrupt")
	// ErrInference marks a failed external model call. The owning stage
	// degrades to its fallback path.
	ErrInference    = errors.New("inference failure")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
