package engine

import "errors"

var (
	// ErrUserCancelled is returned when the operator aborts the session.
	ErrUserCancelled = errors.New("cancelled by user")
	// ErrDeviceUnavailable is returned when the recorder, trigger box or response
	// device stops working mid-trial. The trial is not logged and not retried.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrIO is returned when the decision output cannot be written. It ends the session.
	ErrIO = errors.New("decision output failure")
	// ErrItemOrder is returned when item numbers do not strictly increase.
	ErrItemOrder = errors.New("item number must increase within a session")
)
