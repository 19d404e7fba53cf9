// Package datasource defines how the extract stage obtains raw bytes for a
// named input. Acquisition (download, credentials) is out of scope; a Source
// only opens something that is already reachable.
package datasource

import (
	"context"
	"io"
)

// Source opens a readable stream for one logical input.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Describe returns a human-readable location for logs, e.g. a file path.
	Describe() string
}
