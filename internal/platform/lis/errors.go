package lis

import "fmt"

// ServiceError reports a failed LIS call: the remote was unreachable, answered
// non-2xx after the re-authentication retry, or returned an undecodable body.
// StatusCode is 0 when no response arrived.
type ServiceError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("lis: %s %s", e.Method, e.Endpoint)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }
