// Package idgen generates short, URL-safe identifiers for connections and
// server instances, backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// ConnPrefix is prepended to connection ids.
	ConnPrefix = "conn-"
	// InstancePrefix is prepended to server instance ids.
	InstancePrefix = "inst-"
)

// Alphabet defines the character set used for the random portion of an ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 12

// ConnID returns a new process-unique connection id.
func ConnID() (string, error) {
	return withPrefix(ConnPrefix)
}

// InstanceID returns a new id naming this server process on the relay.
func InstanceID() (string, error) {
	return withPrefix(InstancePrefix)
}

func withPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
