// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the ids the console mints.
const (
	EventPrefix   = "zc-"
	RequestPrefix = "req-"
)

// DefaultPrefix is prepended to every ID generated by Generate.
var DefaultPrefix = EventPrefix

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// Generate returns a new unique ID using the default prefix.
func Generate() (string, error) {
	return GenerateWithPrefix(DefaultPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// RequestID returns an id for the X-Request-ID header. Generation failures
// yield an empty string; the header is then omitted.
func RequestID() string {
	id, err := GenerateWithPrefix(RequestPrefix)
	if err != nil {
		return ""
	}
	return id
}
