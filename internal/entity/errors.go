package entity

import "errors"

var (
	// ErrMalformedEvent marks raw events missing a required field
	ErrMalformedEvent = errors.New("malformed event")

	// ErrTransientSink is returned by sinks that may succeed on retry
	ErrTransientSink = errors.New("transient sink error")

	// ErrPermanentSink is returned by sinks that rejected the request for good
	ErrPermanentSink = errors.New("permanent sink error")

	// ErrPolicyNotStored is returned by a policy source that holds no config yet
	ErrPolicyNotStored = errors.New("policy config not stored")
)
