package dirfile

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// lockWriter takes the advisory single-writer lock on fd. The kernel
// drops the lock when the descriptor closes, so Close needs no
// explicit unlock.
func lockWriter(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrBusy
		}
		return fmt.Errorf("lock directory file: %w", err)
	}
	return nil
}
