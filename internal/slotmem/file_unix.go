//go:build unix

package slotmem

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenFile maps the table stored at path, creating and initializing it when
// the file is new. An existing file must have been created with the same
// geometry; a different one means the record shape changed and every
// process has to be restarted against a fresh file.
func OpenFile(path string, recordSize, slots int) (*Table, error) {
	if recordSize <= 0 || slots <= 0 {
		return nil, fmt.Errorf("slotmem %q: invalid geometry %dx%d", path, slots, recordSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("slotmem: open %q: %w", path, err)
	}
	fd := int(f.Fd())

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("slotmem: lock %q: %w", path, err)
	}

	t, err := mapFile(f, path, recordSize, slots)
	if uerr := unix.Flock(fd, unix.LOCK_UN); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		if t != nil {
			_ = unix.Munmap(t.buf)
		}
		f.Close()
		return nil, err
	}

	t.xlock = func() error { return unix.Flock(fd, unix.LOCK_EX) }
	t.xunlock = func() error { return unix.Flock(fd, unix.LOCK_UN) }
	t.closeFn = func() error {
		return errors.Join(unix.Munmap(t.buf), f.Close())
	}
	return t, nil
}

func mapFile(f *os.File, path string, recordSize, slots int) (*Table, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("slotmem: stat %q: %w", path, err)
	}

	size := Size(recordSize, slots)
	fresh := st.Size() == 0
	switch {
	case fresh:
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("slotmem: size %q: %w", path, err)
		}
	case st.Size() != int64(size):
		return nil, fmt.Errorf("%w: %s: file is %d bytes, want %d", ErrLayout, path, st.Size(), size)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("slotmem: mmap %q: %w", path, err)
	}

	t := newTable(path, buf, recordSize, slots)
	if fresh {
		t.writeHeader()
		return t, nil
	}
	if err := t.checkHeader(); err != nil {
		return t, err
	}
	return t, nil
}
