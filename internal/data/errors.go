package data

import "github.com/signalhouse/domain-intel/internal/domain/model"

// Repository sentinels live in the model package (next to
// model.ErrNoJobsAvailable) so services can match them through the port
// interfaces without importing this package. Aliased here for callers that
// already work with data types.
var (
	ErrSnapshotNotFound    = model.ErrSnapshotNotFound
	ErrChangeEventNotFound = model.ErrChangeEventNotFound
	ErrJobNotFound         = model.ErrJobNotFound
)
