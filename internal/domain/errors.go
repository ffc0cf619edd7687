package domain

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrNoSession is returned by cart mutations issued without a session token.
	ErrNoSession = errors.New("no session token")
)

// User-facing messages stored in CartState.Error.
const (
	MsgNetwork        = "cannot connect to server"
	MsgSessionExpired = "session expired, please log in again"
	MsgGeneric        = "an error occurred"
	MsgNoSession      = "please log in to use your cart"
)

// NetworkError covers timeouts, refused connections and other transport failures.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) UserMessage() string { return MsgNetwork }

// AuthError is returned when the server rejects the session (401).
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized (status %d)", e.Status)
}

func (e *AuthError) UserMessage() string { return MsgSessionExpired }

// RateLimitedError is returned on 429 and carries the advertised Retry-After.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) UserMessage() string { return MsgGeneric }

// ServerError is any non-2xx response other than 401 and 429.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (status %d)", e.Status)
	}
	return fmt.Sprintf("server error (status %d): %s", e.Status, e.Message)
}

func (e *ServerError) UserMessage() string {
	if e.Message == "" {
		return MsgGeneric
	}
	return e.Message
}

// ValidationError is a client-side rejection raised before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) UserMessage() string { return e.Error() }

// UserMessage maps err to the message a view should render.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoSession) {
		return MsgNoSession
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return MsgGeneric
}
