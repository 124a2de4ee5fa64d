package audio

import "errors"

var (
	// ErrDeviceUnavailable is returned when no capture or output device is
	// present or access to it was refused. Fatal to the engine instance.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrInitialization is returned when the audio subsystem or a stream cannot
	// be constructed with the requested parameters. Fatal to the engine instance.
	ErrInitialization = errors.New("audio: initialization failed")

	// ErrChunkScheduling marks a single chunk that could not be scheduled for
	// output. Players log and skip such chunks; it never reaches callers of
	// Enqueue.
	ErrChunkScheduling = errors.New("audio: chunk scheduling failed")

	// ErrTransformUnavailable marks a failed setup of the preferred low-latency
	// capture path. Recorders recover by falling back to block reads.
	ErrTransformUnavailable = errors.New("audio: real-time processing path unavailable")

	// ErrInvalidState is returned when a lifecycle operation is called in a
	// state that does not permit it (e.g. Begin twice without End).
	ErrInvalidState = errors.New("audio: invalid engine state")
)
