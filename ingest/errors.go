package ingest

import "errors"

// ErrNotFound is returned when a source id does not exist.
var ErrNotFound = errors.New("ingest: not found")

// ErrInvalidInput is returned when caller input fails validation.
var ErrInvalidInput = errors.New("ingest: invalid input")

// ErrEmptyUpdate is returned by UpdateSource when the patch sets nothing.
var ErrEmptyUpdate = errors.New("ingest: nothing to update")

// ErrNoSources is returned when a run has no source of either type.
var ErrNoSources = errors.New("ingest: no sources to sync")

// ErrNoPersistence is returned by registry writes when no durable store is
// configured.
var ErrNoPersistence = errors.New("ingest: persistence not configured")

// userError carries a message safe to show to API callers and unwraps to
// one of the sentinels above.
type userError struct {
	msg  string
	kind error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.kind }

func invalid(msg string) error  { return &userError{msg: msg, kind: ErrInvalidInput} }
func notFound(msg string) error { return &userError{msg: msg, kind: ErrNotFound} }

// User-facing messages.
const (
	MsgSourceNotFound  = "Source not found."
	MsgBadSourceType   = `sourceType must be "event" or "spot".`
	MsgBadStatus       = `status must be "active" or "paused".`
	MsgEmptyUpdate     = `Nothing to update. Provide "label" and/or "status".`
	MsgAddressRequired = "Address is required."
	MsgGeocodeMiss     = "Unable to geocode this address."
	MsgBadRouteKey     = "Invalid route cache key."
	MsgBadRoute        = "Invalid route cache payload."
	MsgNoPersistence   = "Source registry is not configured."
)
