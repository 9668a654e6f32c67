//go:build !unix

package slotmem

import (
	"errors"
	"fmt"
)

// OpenFile is only available where mmap and flock are.
func OpenFile(path string, recordSize, slots int) (*Table, error) {
	return nil, fmt.Errorf("slotmem %q: %w", path, errors.ErrUnsupported)
}
