package incontrol

import "fmt"

// AuthError is returned when a bearer credential could not be obtained.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token request failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError is returned when a device call (GPS query or reboot) fails.
type APIError struct {
	Op         string
	Serial     string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d: %v", e.Op, e.Serial, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Serial, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
