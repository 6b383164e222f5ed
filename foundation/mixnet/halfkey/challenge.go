package halfkey

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Challenge is the Proof-of-Relay challenge, a compressed secp256k1 point.
type Challenge [ChallengeSize]byte

// ChallengeFromHintAndShare adds the two curve points represented by the
// half-key challenges. For half-keys a and b this equals the challenge of the
// response derived from a and b.
func ChallengeFromHintAndShare(ownShare HalfKeyChallenge, hint HalfKeyChallenge) (Challenge, error) {
	var ch Challenge

	pub, err := addPoints(ownShare[:], hint[:])
	if err != nil {
		return ch, err
	}
	copy(ch[:], pub.SerializeCompressed())

	return ch, nil
}

// ChallengeFromOwnShareAndHalfKey adds the given half-key challenge to the
// curve point of the half-key.
func ChallengeFromOwnShareAndHalfKey(ownShare HalfKeyChallenge, hk HalfKey) (Challenge, error) {
	return ChallengeFromHintAndShare(ownShare, hk.ToChallenge())
}

// ChallengeFromBytes constructs a challenge from its compressed point.
func ChallengeFromBytes(b []byte) (Challenge, error) {
	var ch Challenge
	if len(b) != ChallengeSize {
		return ch, fmt.Errorf("challenge: %w: got %d, exp %d", ErrInvalidLength, len(b), ChallengeSize)
	}
	copy(ch[:], b)

	return ch, nil
}

// ToEthereumChallenge hashes the uncompressed point and keeps the last 20
// bytes, the same way an Ethereum address is derived from a public key. This
// is a lossy, one-way conversion.
func (ch Challenge) ToEthereumChallenge() (EthereumChallenge, error) {
	var ec EthereumChallenge

	pub, err := secp256k1.ParsePubKey(ch[:])
	if err != nil {
		return ec, fmt.Errorf("%w: %s", ErrInvalidPoint, err)
	}

	hash := crypto.Keccak256(pub.SerializeUncompressed()[1:])
	copy(ec[:], hash[12:])

	return ec, nil
}

// Bytes returns a copy of the raw challenge.
func (ch Challenge) Bytes() []byte {
	return ch[:]
}

// String implements the fmt.Stringer interface.
func (ch Challenge) String() string {
	return hexutil.Encode(ch[:])
}

// =============================================================================

// EthereumChallenge is the compact form of a challenge that is embedded into
// tickets and can be verified on-chain.
type EthereumChallenge [EthereumChallengeSize]byte

// EthereumChallengeFromBytes constructs an Ethereum challenge from raw bytes.
func EthereumChallengeFromBytes(b []byte) (EthereumChallenge, error) {
	var ec EthereumChallenge
	if len(b) != EthereumChallengeSize {
		return ec, fmt.Errorf("ethereum challenge: %w: got %d, exp %d", ErrInvalidLength, len(b), EthereumChallengeSize)
	}
	copy(ec[:], b)

	return ec, nil
}

// EthereumChallengeFromHex decodes a 0x prefixed hex string.
func EthereumChallengeFromHex(s string) (EthereumChallenge, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return EthereumChallenge{}, fmt.Errorf("ethereum challenge: %w", err)
	}

	return EthereumChallengeFromBytes(b)
}

// Equal reports whether both challenges are byte-wise equal.
func (ec EthereumChallenge) Equal(other EthereumChallenge) bool {
	return bytes.Equal(ec[:], other[:])
}

// Address returns the challenge in the form of an Ethereum address.
func (ec EthereumChallenge) Address() common.Address {
	return common.Address(ec)
}

// Bytes returns a copy of the raw challenge.
func (ec EthereumChallenge) Bytes() []byte {
	return ec[:]
}

// String implements the fmt.Stringer interface.
func (ec EthereumChallenge) String() string {
	return hexutil.Encode(ec[:])
}

// =============================================================================

// Response is the solution to a Proof-of-Relay challenge. It is the sum of
// two half-keys and therefore also a non-zero secp256k1 scalar.
type Response [ResponseSize]byte

// ResponseFromHalfKeys adds the two scalars represented by the half-keys. It
// fails if either of them, or their sum, is zero.
func ResponseFromHalfKeys(first HalfKey, second HalfKey) (Response, error) {
	var r Response

	var s1, s2 secp256k1.ModNScalar
	if overflow := s1.SetByteSlice(first[:]); overflow || s1.IsZero() {
		return r, fmt.Errorf("first half-key: %w", ErrZeroScalar)
	}
	if overflow := s2.SetByteSlice(second[:]); overflow || s2.IsZero() {
		return r, fmt.Errorf("second half-key: %w", ErrZeroScalar)
	}

	s1.Add(&s2)
	if s1.IsZero() {
		return r, fmt.Errorf("sum of half-keys: %w", ErrZeroScalar)
	}

	return Response(s1.Bytes()), nil
}

// ResponseFromBytes constructs a response from its raw representation.
func ResponseFromBytes(b []byte) (Response, error) {
	var r Response
	if len(b) != ResponseSize {
		return r, fmt.Errorf("response: %w: got %d, exp %d", ErrInvalidLength, len(b), ResponseSize)
	}
	copy(r[:], b)

	return r, nil
}

// ToChallenge turns the scalar of the response into its curve point.
func (r Response) ToChallenge() (Challenge, error) {
	var ch Challenge

	pub, err := scalarToPoint(r[:])
	if err != nil {
		return ch, fmt.Errorf("response: %w", err)
	}
	copy(ch[:], pub.SerializeCompressed())

	return ch, nil
}

// ToEthereumChallenge is a shortcut for converting the response to its
// challenge and then to the Ethereum challenge.
func (r Response) ToEthereumChallenge() (EthereumChallenge, error) {
	ch, err := r.ToChallenge()
	if err != nil {
		return EthereumChallenge{}, err
	}

	return ch.ToEthereumChallenge()
}

// Bytes returns a copy of the raw response.
func (r Response) Bytes() []byte {
	return r[:]
}

// String implements the fmt.Stringer interface.
func (r Response) String() string {
	return hexutil.Encode(r[:])
}
