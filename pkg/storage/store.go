package storage

import (
	"errors"

	"github.com/herdctl/herd/pkg/types"
)

// ErrNotFound is returned when no run is recorded for an identity.
var ErrNotFound = errors.New("run not found")

// Store persists instance snapshots across control-plane restarts. The
// scheduler core never reads these back; they exist so operators can
// inspect the last known state of a run after a crash.
type Store interface {
	SaveRun(snap *types.InstanceSnapshot) error
	GetRun(identity types.Identity) (*types.InstanceSnapshot, error)
	ListRuns() ([]*types.InstanceSnapshot, error)
	DeleteRun(identity types.Identity) error
	Close() error
}
