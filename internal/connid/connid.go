// Package connid generates and parses the fixed-width connection
// identifiers a server assigns to each accepted UDP stream.
package connid

import (
	"fmt"

	"github.com/ehrlich-b/streamgen/internal/wire"
	"github.com/rs/xid"
)

// Len is the fixed byte width of a connection id, matching
// wire.ConnIDLen exactly: xid's own .Bytes() form is 12 bytes wide, which
// is why it was picked over a UUID (16 bytes) or a random nonce (variable
// width).
const Len = wire.ConnIDLen

// ID is a fixed-width, sortable, server-assigned connection identifier.
type ID [Len]byte

// New mints a fresh identifier. xid ids are time-sortable and
// collision-resistant without coordination, which is all a connection id
// needs: uniqueness for the run, not cryptographic unpredictability.
func New() ID {
	var out ID
	copy(out[:], xid.New().Bytes())
	return out
}

// String renders the identifier the same way xid.ID.String does, for log
// lines and status-sink output.
func (id ID) String() string {
	var x xid.ID
	copy(x[:], id[:])
	return x.String()
}

// FromBytes validates and copies a received connection id out of a raw
// byte slice of exactly Len bytes.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != Len {
		return out, fmt.Errorf("connid: want %d bytes, got %d", Len, len(b))
	}
	copy(out[:], b)
	return out, nil
}
