package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: row does not exist in the store
//   - ErrConflict: a uniqueness constraint rejected the write (e.g. a second
//     resolution racing to claim the same identifier)
//   - ErrInvalidState: entity in the wrong state for the requested mutation
//     (merged-away person, immutable decision row)
//   - ErrUnavailable: store temporarily unreachable; the batch layer retries
//
// For bad input, use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
