package messaging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConversational means the agent has no conversational capability.
	ErrNotConversational = errors.New("agent is not conversational")

	// ErrMalformedPayload means the backend answered with an unexpected shape.
	ErrMalformedPayload = errors.New("malformed backend payload")
)

// notConversationalMarkers are substrings the backend uses when an agent
// exposes no conversational workflow.
var notConversationalMarkers = []string{
	"not registered",
	"registered workflow types",
}

// APIError is a non-ok response from the messaging backend.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrNotConversational against classified responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotConversational && isNotConversationalMessage(e.Message)
}

func isNotConversationalMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range notConversationalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsNotConversational reports whether err says the agent cannot converse.
func IsNotConversational(err error) bool {
	return errors.Is(err, ErrNotConversational)
}
