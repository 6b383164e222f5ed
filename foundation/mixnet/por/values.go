// Package por implements the Proof-of-Relay challenge chain. The sender of a
// packet builds the chain from the secrets it shares with every relay on the
// path and each relay verifies its link using only its own secret.
package por

import (
	"fmt"

	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sizes of the serialized values.
const (
	ValuesSize           = 1 + halfkey.HalfKeyChallengeSize + halfkey.EthereumChallengeSize
	RelayStringSize      = halfkey.EthereumChallengeSize + halfkey.HalfKeyChallengeSize
	SurbReceiverInfoSize = ValuesSize + 32
)

// Values is the root of the chain that the sender keeps for itself. Layout
// is chain length (1) || acknowledgement challenge (33) || ticket
// challenge (20).
type Values [ValuesSize]byte

// NewValues packs the root of the chain.
func NewValues(chainLength uint8, ackChallenge halfkey.HalfKeyChallenge, ticketChallenge halfkey.EthereumChallenge) Values {
	var v Values
	v[0] = chainLength
	copy(v[1:1+halfkey.HalfKeyChallengeSize], ackChallenge[:])
	copy(v[1+halfkey.HalfKeyChallengeSize:], ticketChallenge[:])

	return v
}

// ValuesFromBytes constructs the values from their raw representation.
func ValuesFromBytes(b []byte) (Values, error) {
	var v Values
	if len(b) != ValuesSize {
		return v, fmt.Errorf("por values: %w: got %d, exp %d", halfkey.ErrInvalidLength, len(b), ValuesSize)
	}
	copy(v[:], b)

	return v, nil
}

// ChainLength returns the number of hops on the path.
func (v Values) ChainLength() uint8 {
	return v[0]
}

// AckChallenge returns the challenge the first relay's acknowledgement
// must solve.
func (v Values) AckChallenge() halfkey.HalfKeyChallenge {
	var hkc halfkey.HalfKeyChallenge
	copy(hkc[:], v[1:1+halfkey.HalfKeyChallengeSize])
	return hkc
}

// TicketChallenge returns the challenge of the ticket issued to the first
// relay.
func (v Values) TicketChallenge() halfkey.EthereumChallenge {
	var ec halfkey.EthereumChallenge
	copy(ec[:], v[1+halfkey.HalfKeyChallengeSize:])
	return ec
}

// Bytes returns a copy of the raw values.
func (v Values) Bytes() []byte {
	return v[:]
}

// String implements the fmt.Stringer interface.
func (v Values) String() string {
	return fmt.Sprintf("por values len %d ack %s ticket %s", v.ChainLength(), v.AckChallenge(), v.TicketChallenge())
}

// =============================================================================

// RelayString is the per hop payload carried in the packet header. Layout is
// next ticket challenge (20) || hint (33).
type RelayString [RelayStringSize]byte

// NewRelayString packs the payload for a single relay.
func NewRelayString(nextTicketChallenge halfkey.EthereumChallenge, hint halfkey.HalfKeyChallenge) RelayString {
	var rs RelayString
	copy(rs[:halfkey.EthereumChallengeSize], nextTicketChallenge[:])
	copy(rs[halfkey.EthereumChallengeSize:], hint[:])

	return rs
}

// RelayStringFromBytes constructs the payload from its raw representation.
func RelayStringFromBytes(b []byte) (RelayString, error) {
	var rs RelayString
	if len(b) != RelayStringSize {
		return rs, fmt.Errorf("por string: %w: got %d, exp %d", halfkey.ErrInvalidLength, len(b), RelayStringSize)
	}
	copy(rs[:], b)

	return rs, nil
}

// NextTicketChallenge returns the challenge for the ticket the relay issues
// to the next hop.
func (rs RelayString) NextTicketChallenge() halfkey.EthereumChallenge {
	var ec halfkey.EthereumChallenge
	copy(ec[:], rs[:halfkey.EthereumChallengeSize])
	return ec
}

// Hint returns the acknowledgement challenge of the next hop.
func (rs RelayString) Hint() halfkey.HalfKeyChallenge {
	var hkc halfkey.HalfKeyChallenge
	copy(hkc[:], rs[halfkey.EthereumChallengeSize:])
	return hkc
}

// Bytes returns a copy of the raw payload.
func (rs RelayString) Bytes() []byte {
	return rs[:]
}

// String implements the fmt.Stringer interface.
func (rs RelayString) String() string {
	return hexutil.Encode(rs[:])
}

// =============================================================================

// SurbReceiverInfo carries the values of a reply path to its receiver. The
// trailing 32 bytes are reserved and always zero.
type SurbReceiverInfo [SurbReceiverInfoSize]byte

// NewSurbReceiverInfo wraps the values of a reply path.
func NewSurbReceiverInfo(values Values) SurbReceiverInfo {
	var info SurbReceiverInfo
	copy(info[:ValuesSize], values[:])

	return info
}

// SurbReceiverInfoFromBytes constructs the info from its raw representation.
func SurbReceiverInfoFromBytes(b []byte) (SurbReceiverInfo, error) {
	var info SurbReceiverInfo
	if len(b) != SurbReceiverInfoSize {
		return info, fmt.Errorf("surb receiver info: %w: got %d, exp %d", halfkey.ErrInvalidLength, len(b), SurbReceiverInfoSize)
	}
	copy(info[:], b)

	return info, nil
}

// Values returns the wrapped values.
func (info SurbReceiverInfo) Values() Values {
	var v Values
	copy(v[:], info[:ValuesSize])
	return v
}

// Bytes returns a copy of the raw info.
func (info SurbReceiverInfo) Bytes() []byte {
	return info[:]
}

// =============================================================================

// Output is the result of a successful verification by a relay.
type Output struct {
	OwnKey              halfkey.HalfKey
	NextTicketChallenge halfkey.EthereumChallenge
	AckChallenge        halfkey.HalfKeyChallenge
}
