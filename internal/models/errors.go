package models

import "errors"

// Sentinel errors for the request-time taxonomy. Per-asset failures are not
// errors in this sense: they are terminal states recorded on the AssetRecord
// and surfaced through status polling.
var (
	// ErrQuotaExceeded rejects a batch before any work starts, either for
	// exceeding the batch ceiling or for insufficient remaining storage.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyPublishing rejects a publish request while another build for
	// the same website is in flight.
	ErrAlreadyPublishing = errors.New("already publishing")

	// ErrNotFound is returned for lookups of unknown entities.
	ErrNotFound = errors.New("not found")
)
