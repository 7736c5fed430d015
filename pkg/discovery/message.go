package discovery

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ryandielhenn/zephyrlink/pkg/identity"
)

// DefaultPort is the well-known UDP port every node announces on and listens to.
const DefaultPort = 35498

const separator = " ON "

// headerLen is the offset of the port text: id followed by separator.
const headerLen = identity.Len + len(separator)

var ErrMalformed = errors.New("malformed announcement")

// Announcement is the payload of one discovery broadcast: who is speaking and
// which TCP port answers its timestamp requests.
type Announcement struct {
	ID   identity.ID
	Port uint16
}

// MarshalBinary encodes a as "<id> ON <port>".
func (a Announcement) MarshalBinary() ([]byte, error) {
	if _, err := identity.Parse(string(a.ID)); err != nil {
		return nil, err
	}
	if a.Port == 0 {
		return nil, fmt.Errorf("%w: zero port", ErrMalformed)
	}
	b := make([]byte, 0, headerLen+5)
	b = append(b, string(a.ID)...)
	b = append(b, separator...)
	return strconv.AppendUint(b, uint64(a.Port), 10), nil
}

// ParseAnnouncement decodes a datagram payload. The id is exactly the first 8
// bytes and the port is everything after offset 12.
func ParseAnnouncement(b []byte) (Announcement, error) {
	if len(b) <= headerLen {
		return Announcement{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if string(b[identity.Len:headerLen]) != separator {
		return Announcement{}, fmt.Errorf("%w: missing %q at offset %d", ErrMalformed, separator, identity.Len)
	}
	id, err := identity.Parse(string(b[:identity.Len]))
	if err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	port, err := strconv.ParseUint(string(b[headerLen:]), 10, 16)
	if err != nil || port == 0 {
		return Announcement{}, fmt.Errorf("%w: port %q", ErrMalformed, b[headerLen:])
	}
	return Announcement{ID: id, Port: uint16(port)}, nil
}
