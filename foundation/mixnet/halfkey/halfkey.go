// Package halfkey provides the secp256k1 building blocks of the Proof-of-Relay
// scheme. A half-key is a non-zero scalar, its challenge is the matching curve
// point and two half-keys add up to the response that unlocks a ticket.
package halfkey

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sizes of the fixed length values in this package.
const (
	HalfKeySize           = 32
	HalfKeyChallengeSize  = 33
	ChallengeSize         = 33
	ResponseSize          = 32
	EthereumChallengeSize = 20
	SharedSecretSize      = 32
)

// Set of error variables for the package.
var (
	ErrInvalidLength = errors.New("invalid length")
	ErrZeroScalar    = errors.New("scalar is zero")
	ErrInvalidPoint  = errors.New("invalid curve point")
)

// =============================================================================

// HalfKey represents a non-zero secp256k1 scalar. The type itself does not
// enforce the scalar is non-zero, the operations that need it do.
type HalfKey [HalfKeySize]byte

// RandomHalfKey generates a random non-zero half-key.
func RandomHalfKey() HalfKey {
	for {
		var b [HalfKeySize]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("reading random bytes: %s", err))
		}

		var s secp256k1.ModNScalar
		if overflow := s.SetBytes(&b); overflow == 0 && !s.IsZero() {
			return HalfKey(s.Bytes())
		}
	}
}

// HalfKeyFromBytes constructs a half-key from its raw representation.
func HalfKeyFromBytes(b []byte) (HalfKey, error) {
	var hk HalfKey
	if len(b) != HalfKeySize {
		return hk, fmt.Errorf("half-key: %w: got %d, exp %d", ErrInvalidLength, len(b), HalfKeySize)
	}
	copy(hk[:], b)

	return hk, nil
}

// Validate checks the half-key is a non-zero scalar below the group order.
func (hk HalfKey) Validate() error {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(hk[:]); overflow {
		return errors.New("half-key overflows the group order")
	}
	if s.IsZero() {
		return ErrZeroScalar
	}

	return nil
}

// ToChallenge converts the scalar into its curve point, the public commitment
// to this half-key. It panics if the half-key is the zero scalar.
func (hk HalfKey) ToChallenge() HalfKeyChallenge {
	pub, err := scalarToPoint(hk[:])
	if err != nil {
		panic(fmt.Sprintf("half-key: %s", err))
	}

	var hkc HalfKeyChallenge
	copy(hkc[:], pub.SerializeCompressed())

	return hkc
}

// Bytes returns a copy of the raw half-key.
func (hk HalfKey) Bytes() []byte {
	return hk[:]
}

// String implements the fmt.Stringer interface.
func (hk HalfKey) String() string {
	return hexutil.Encode(hk[:])
}

// =============================================================================

// HalfKeyChallenge is the compressed curve point of a half-key.
type HalfKeyChallenge [HalfKeyChallengeSize]byte

// HalfKeyChallengeFromBytes constructs a half-key challenge from its raw
// representation. The point itself is not validated here.
func HalfKeyChallengeFromBytes(b []byte) (HalfKeyChallenge, error) {
	var hkc HalfKeyChallenge
	if len(b) != HalfKeyChallengeSize {
		return hkc, fmt.Errorf("half-key challenge: %w: got %d, exp %d", ErrInvalidLength, len(b), HalfKeyChallengeSize)
	}
	copy(hkc[:], b)

	return hkc, nil
}

// Bytes returns a copy of the raw half-key challenge.
func (hkc HalfKeyChallenge) Bytes() []byte {
	return hkc[:]
}

// String implements the fmt.Stringer interface.
func (hkc HalfKeyChallenge) String() string {
	return hexutil.Encode(hkc[:])
}

// =============================================================================

// scalarToPoint multiplies the generator by the given big-endian scalar.
func scalarToPoint(b []byte) (*secp256k1.PublicKey, error) {
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("scalar overflows the group order")
	}
	if k.IsZero() {
		return nil, ErrZeroScalar
	}

	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &p)
	p.ToAffine()

	return secp256k1.NewPublicKey(&p.X, &p.Y), nil
}

// addPoints sums two compressed curve points.
func addPoints(a, b []byte) (*secp256k1.PublicKey, error) {
	pa, err := secp256k1.ParsePubKey(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPoint, err)
	}

	pb, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPoint, err)
	}

	var ja, jb, sum secp256k1.JacobianPoint
	pa.AsJacobian(&ja)
	pb.AsJacobian(&jb)
	secp256k1.AddNonConst(&ja, &jb, &sum)

	// The sum of a point and its negation is the point at infinity.
	if sum.Z.IsZero() || (sum.X.IsZero() && sum.Y.IsZero()) {
		return nil, fmt.Errorf("%w: point at infinity", ErrInvalidPoint)
	}
	sum.ToAffine()

	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}
