package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrResolutionMiss     = errors.New("no key mapping for label")
	ErrStoreUnavailable   = errors.New("snapshot store unavailable")
	ErrNoData             = errors.New("no observations in range")
	ErrMalformedTimestamp = errors.New("malformed event timestamp")
)
