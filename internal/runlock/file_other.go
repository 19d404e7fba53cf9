//go:build !unix

package runlock

import (
	"errors"
	"fmt"
	"os"
)

// File creates path exclusively and removes it on release. A crashed run
// leaves the file behind and it must be removed by hand.
func File(path string) (release func(), err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("runlock: create %s: %w", path, err)
	}
	return func() {
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}
