package finding

import "errors"

// Sentinel errors for common pipeline failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrUnknownCheck indicates a finding references a check id absent
	// from the registry snapshot used for its scan.
	ErrUnknownCheck = errors.New("finding: unknown check id")

	// ErrInvalidStatus indicates a status outside {PASS, FAIL, ERROR}.
	ErrInvalidStatus = errors.New("finding: invalid status")

	// ErrDuplicateKey indicates a second, conflicting write for the same
	// (scan_id, check_id, resource_id) key.
	ErrDuplicateKey = errors.New("finding: duplicate key with conflicting value")
)
