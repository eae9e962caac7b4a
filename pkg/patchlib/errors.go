package patchlib

import "errors"

var (
	// ErrUpstreamUnreachable wraps any transport level failure talking to the CDN.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrBodyDecode is returned when the upstream body cannot be turned into text.
	ErrBodyDecode = errors.New("cannot decode upstream body")

	// ErrPatchPattern is returned by Compile when a route's pattern is invalid.
	ErrPatchPattern = errors.New("invalid patch pattern")
)
