package ssh

import (
	"errors"
	"fmt"
)

// Sentinel validation errors shared by the Executor and Verifier: a
// profiling host is only ever addressed through a Credentials value, so
// both validate it the same way.
var (
	ErrEmptyHost       = errors.New("host cannot be empty")
	ErrInvalidPort     = errors.New("port must be positive")
	ErrEmptyUser       = errors.New("user cannot be empty")
	ErrEmptyPrivateKey = errors.New("private key cannot be empty")
)

// Credentials addresses the profiling sidecar host a Controller starts
// and stops a session on: where to dial and which key authenticates.
type Credentials struct {
	Host       string
	Port       int
	User       string
	PrivateKey string
}

// Validate reports the first missing or malformed field, if any.
func (c Credentials) Validate() error {
	if c.Host == "" {
		return ErrEmptyHost
	}
	if c.Port <= 0 {
		return ErrInvalidPort
	}
	if c.User == "" {
		return ErrEmptyUser
	}
	if c.PrivateKey == "" {
		return ErrEmptyPrivateKey
	}
	return nil
}

func (c Credentials) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
