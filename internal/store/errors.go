package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNoData indicates the caller required events but had none to
	// ingest. Distinct from a store failure so callers can report
	// "nothing to do" instead of "store unreachable".
	ErrNoData = errors.New("no usage data to ingest")

	// ErrBusy indicates a lock-wait timeout. The operation did not run;
	// the caller may retry.
	ErrBusy = errors.New("store busy")
)

// classify wraps a storage-engine error, mapping SQLITE_BUSY/LOCKED to
// the recoverable ErrBusy sentinel.
func classify(op string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%s: %w: %v", op, ErrBusy, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
