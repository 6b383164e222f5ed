// Package channel provides the payment channel entity shared between two
// nodes and the state machine that governs its lifecycle.
package channel

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// IDSize is the length of a channel id in bytes.
const IDSize = 32

// ID uniquely identifies the channel between a source and a destination.
type ID [IDSize]byte

// NewID calculates the channel id as the keccak256 hash of the source
// address followed by the destination address. The order matters, a
// channel from A to B is different from the channel from B to A. It panics
// if both addresses are the same since a node cannot open a channel to
// itself.
func NewID(source common.Address, destination common.Address) ID {
	if source == destination {
		panic(fmt.Sprintf("channel: source and destination are the same: %s", source))
	}

	return ID(crypto.Keccak256Hash(source.Bytes(), destination.Bytes()))
}

// IDFromBytes constructs an id from its raw representation.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, fmt.Errorf("channel id: invalid length: got %d, exp %d", len(b), IDSize)
	}
	copy(id[:], b)

	return id, nil
}

// IDFromHex decodes a 0x prefixed hex string into an id.
func IDFromHex(s string) (ID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("channel id: %w", err)
	}

	return IDFromBytes(b)
}

// Bytes returns a copy of the raw id.
func (id ID) Bytes() []byte {
	return id[:]
}

// Hash returns the id as a go-ethereum hash.
func (id ID) Hash() common.Hash {
	return common.Hash(id)
}

// Compare orders ids by their raw bytes.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// String implements the fmt.Stringer interface.
func (id ID) String() string {
	return hexutil.Encode(id[:])
}

// =============================================================================

// Direction describes a channel from the point of view of a node.
type Direction uint8

// Set of directions a channel can have relative to a node.
const (
	Incoming Direction = iota
	Outgoing
)

// ParseDirection converts the text form of a direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "incoming":
		return Incoming, nil
	case "outgoing":
		return Outgoing, nil
	}

	return 0, fmt.Errorf("unknown direction %q", s)
}

// String implements the fmt.Stringer interface.
func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}
