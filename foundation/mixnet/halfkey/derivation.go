package halfkey

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/hkdf"
)

// Domain separation labels for the two key shares derived from a secret.
const (
	labelOwnKey = "HASH_KEY_OWN_KEY"
	labelAckKey = "HASH_KEY_ACK_KEY"
)

// SharedSecret is the secret a relay shares with the packet sender after the
// key exchange of the packet's onion layer.
type SharedSecret [SharedSecretSize]byte

// RandomSecret generates a fresh random shared secret.
func RandomSecret() SharedSecret {
	var s SharedSecret
	if _, err := rand.Read(s[:]); err != nil {
		panic(fmt.Sprintf("reading random bytes: %s", err))
	}

	return s
}

// SharedSecretFromBytes constructs a shared secret from raw bytes.
func SharedSecretFromBytes(b []byte) (SharedSecret, error) {
	var s SharedSecret
	if len(b) != SharedSecretSize {
		return s, fmt.Errorf("shared secret: %w: got %d, exp %d", ErrInvalidLength, len(b), SharedSecretSize)
	}
	copy(s[:], b)

	return s, nil
}

// Bytes returns a copy of the raw secret.
func (s SharedSecret) Bytes() []byte {
	return s[:]
}

// String implements the fmt.Stringer interface.
func (s SharedSecret) String() string {
	return hexutil.Encode(s[:])
}

// =============================================================================

// DeriveOwnKeyShare derives the half-key a relay contributes to the response
// of the ticket it receives.
func DeriveOwnKeyShare(secret SharedSecret) HalfKey {
	return sampleFieldElement(secret, labelOwnKey)
}

// DeriveAckKeyShare derives the half-key a relay reveals to the previous hop
// inside the acknowledgement.
func DeriveAckKeyShare(secret SharedSecret) HalfKey {
	return sampleFieldElement(secret, labelAckKey)
}

// sampleFieldElement expands the secret with HKDF under the given label until
// it yields a valid non-zero scalar.
func sampleFieldElement(secret SharedSecret, label string) HalfKey {
	r := hkdf.New(sha256.New, secret[:], nil, []byte(label))

	var buf [HalfKeySize]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			panic(fmt.Sprintf("hkdf expansion exhausted: %s", err))
		}

		var s secp256k1.ModNScalar
		if overflow := s.SetBytes(&buf); overflow == 0 && !s.IsZero() {
			return HalfKey(s.Bytes())
		}
	}
}
