package catalog

import "errors"

// ErrRunNotFound is returned when no run matches a lookup.
var ErrRunNotFound = errors.New("catalog: run not found")

// Catalog is the run history consumed by the service. Depend on this rather
// than *DB so encoding works with the catalog disabled.
type Catalog interface {
	RecordRun(run *Run) error
	RecordVerification(v *Verification) error
	GetRun(id string) (*Run, error)
	LatestRun(outDir string) (*Run, error)
	ListRuns(f RunFilter) ([]Run, error)
	Verifications(runID string) ([]Verification, error)
	Close() error
}

var _ Catalog = (*DB)(nil)
