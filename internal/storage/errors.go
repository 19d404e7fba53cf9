package storage

import (
	"database/sql/driver"
	"errors"
	"net"
	"syscall"
)

// IsConnError reports whether err looks like the destination could not be
// reached, as opposed to a statement it rejected. database/sql backends use it
// to tag failures with etlerr.ErrConnection.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
