package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a random url-safe identifier for jobs and temp resources.
func NewID() string {
	id, err := gonanoid.Generate(idAlphabet, 16)
	if err != nil {
		return gonanoid.Must()
	}
	return id
}
