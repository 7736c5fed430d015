package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Len is the fixed length of a node identifier on the wire.
const Len = 8

var ErrInvalidID = errors.New("invalid node id")

// ID identifies one node for the lifetime of its process.
type ID string

// New returns a fresh identifier: the first 8 characters of a random UUID.
func New() ID {
	return ID(uuid.New().String()[:Len])
}

// Parse validates s as a node identifier: exactly 8 printable ASCII bytes.
func Parse(s string) (ID, error) {
	if len(s) != Len {
		return "", fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidID, s, len(s), Len)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return "", fmt.Errorf("%w: %q has non-printable byte at %d", ErrInvalidID, s, i)
		}
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }
