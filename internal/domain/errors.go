package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterInvocation means the sensor adapter could not be started or exited non-zero.
	ErrAdapterInvocation = errors.New("aegispoll: adapter invocation failed")
	// ErrAdapterDecode means the adapter output was not a JSON object or lacked a declared metric.
	ErrAdapterDecode = errors.New("aegispoll: adapter output invalid")
	// ErrForwardTransport means the recording endpoint could not be reached.
	ErrForwardTransport = errors.New("aegispoll: recording transport failed")
	// ErrForwardRejected means the recording endpoint answered with something other than 201.
	ErrForwardRejected = errors.New("aegispoll: recording rejected")
	// ErrConfig means the configuration is malformed or incomplete.
	ErrConfig = errors.New("aegispoll: invalid configuration")
)

// RejectedError carries the response status of a refused recording.
type RejectedError struct {
	Metric     string
	StatusCode int
	Status     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("recording %s rejected: %s", e.Metric, e.Status)
}

func (e *RejectedError) Unwrap() error { return ErrForwardRejected }
