package middleware

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxContentLength = 100000
	maxNameLength    = 128
	maxTopicLength   = 256
	// MaxFileSize bounds decoded uploads.
	MaxFileSize = 10 << 20
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateName validates an agent or activation name taken from the path.
func ValidateName(kind, name string) error {
	if name == "" {
		return errors.New(kind + " cannot be empty")
	}
	if len(name) > maxNameLength {
		return errors.New(kind + " exceeds maximum length")
	}
	if !utf8.ValidString(name) || strings.ContainsAny(name, "/\\") {
		return errors.New(kind + " contains invalid characters")
	}
	return nil
}

// ValidateTopicID validates a topic id.
func ValidateTopicID(id string) error {
	if id == "" {
		return errors.New("topic cannot be empty")
	}
	if len(id) > maxTopicLength {
		return errors.New("topic exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("topic must be valid UTF-8")
	}
	return nil
}

// ValidateTopicName validates the display name of a new topic.
func ValidateTopicName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name cannot be empty")
	}
	if len(name) > maxTopicLength {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}

// ValidateFileUpload validates a base64 encoded upload.
func ValidateFileUpload(fileName, contentType, content string) error {
	if strings.TrimSpace(fileName) == "" {
		return errors.New("file name cannot be empty")
	}
	if len(fileName) > maxTopicLength || strings.ContainsAny(fileName, "/\\") {
		return errors.New("invalid file name")
	}
	if contentType == "" {
		return errors.New("content type cannot be empty")
	}
	if content == "" {
		return errors.New("file content cannot be empty")
	}
	if base64.StdEncoding.DecodedLen(len(content)) > MaxFileSize {
		return errors.New("file exceeds maximum size")
	}
	if _, err := base64.StdEncoding.DecodeString(content); err != nil {
		return errors.New("file content must be base64 encoded")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}
