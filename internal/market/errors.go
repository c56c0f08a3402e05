package market

import "errors"

var (
	// ErrMalformedFeedEvent marks a ticker event that cannot become a snapshot.
	ErrMalformedFeedEvent = errors.New("malformed feed event")
	// ErrMissingPairForCycle marks a triangular cycle whose market is not listed on the venue.
	ErrMissingPairForCycle = errors.New("missing pair for cycle")
	// ErrTickOverrun marks a tick that could not finish within its interval.
	ErrTickOverrun = errors.New("tick overrun")
	// ErrVenueStale marks a venue whose data exceeded the staleness bound.
	ErrVenueStale = errors.New("venue stale")
	// ErrConfiguration marks invalid startup configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound is returned for lookups of unknown keys.
	ErrNotFound = errors.New("not found")
)
