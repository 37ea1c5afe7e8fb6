package macho

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openImageFile opens path read-write without truncation (spec.md §4.A,
// §6). os.OpenFile gets us a *os.File for Fd()/Close(); every actual
// positioned read or write after that goes through golang.org/x/sys/unix,
// the same package the teacher reaches for whenever it needs OS-level
// file descriptor operations (filewatcher_darwin.go, filewatcher_unix.go).
func openImageFile(path string, mode os.FileMode) (*os.File, int, error) {
	if mode == 0 {
		mode = 0o755
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, 0, err
	}
	return f, int(f.Fd()), nil
}

// pwriteAll writes all of b to the image file at offset off, looping
// over short writes the way a pwrite(2)-based writer must (spec.md §5).
func (img *Image) pwriteAll(b []byte, off int64) error {
	for len(b) > 0 {
		n, err := unix.Pwrite(img.fd, b, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("pwrite at %d: %w", off, err)
		}
		if n == 0 {
			return fmt.Errorf("pwrite at %d: short write", off)
		}
		b = b[n:]
		off += int64(n)
	}
	return nil
}

// fsync flushes the image file's dirty pages to stable storage. Called
// once at the end of a successful FlushModule so a crash right after
// linking can't leave a binary with a written code signature over
// unwritten __text bytes (spec.md §4.F/§5 write ordering only promises
// in-process ordering, not durability past a crash).
func (img *Image) fsync() error {
	for {
		err := unix.Fsync(img.fd)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// pread reads exactly len(b) bytes from off, looping over short reads.
func (img *Image) pread(b []byte, off int64) error {
	for len(b) > 0 {
		n, err := unix.Pread(img.fd, b, off)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("pread at %d: %w", off, err)
		}
		if n == 0 {
			return fmt.Errorf("pread at %d: unexpected EOF", off)
		}
		b = b[n:]
		off += int64(n)
	}
	return nil
}
