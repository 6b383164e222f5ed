package por

import (
	"errors"
	"fmt"
	"math"

	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
)

// ErrVerificationFailed is returned when the relay string does not match the
// challenge of the incoming ticket. The packet must be dropped.
var ErrVerificationFailed = errors.New("proof of relay verification failed")

// VerificationError carries the challenges that did not match.
type VerificationError struct {
	Expected halfkey.EthereumChallenge
	Actual   halfkey.EthereumChallenge
}

// Error implements the error interface.
func (ve *VerificationError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", ErrVerificationFailed, ve.Expected, ve.Actual)
}

// Unwrap allows errors.Is to match ErrVerificationFailed.
func (ve *VerificationError) Unwrap() error {
	return ErrVerificationFailed
}

// =============================================================================

// Generate builds the challenge chain for a path. The secrets are ordered
// from the first relay to the last. It returns one relay string for every
// relay after the first, where strings[k] is delivered to relay k, plus the
// values that form the root of the chain.
//
// The ticket challenge of the last relay is completed with a key share from
// a random secret that is never recorded. For a direct path with a single
// secret this makes the root ticket challenge unverifiable on purpose.
func Generate(secrets []halfkey.SharedSecret) ([]RelayString, Values, error) {
	n := len(secrets)
	if n == 0 {
		return nil, Values{}, errors.New("por: at least one secret is required")
	}
	if n > math.MaxUint8 {
		return nil, Values{}, fmt.Errorf("por: too many secrets: %d", n)
	}

	var (
		strings  = make([]RelayString, 0, n-1)
		values   Values
		ackShare = halfkey.DeriveAckKeyShare(secrets[0])
	)

	for i := range n {
		hint := ackShare.ToChallenge()
		s1 := halfkey.DeriveOwnKeyShare(secrets[i])

		var s2 halfkey.HalfKey
		switch {
		case i+1 < n:
			s2 = halfkey.DeriveAckKeyShare(secrets[i+1])
		default:
			s2 = halfkey.DeriveAckKeyShare(halfkey.RandomSecret())
		}

		resp, err := halfkey.ResponseFromHalfKeys(s1, s2)
		if err != nil {
			return nil, Values{}, fmt.Errorf("por: hop %d: %w", i, err)
		}

		next, err := resp.ToEthereumChallenge()
		if err != nil {
			return nil, Values{}, fmt.Errorf("por: hop %d: %w", i, err)
		}

		switch i {
		case 0:
			values = NewValues(uint8(n), hint, next)
		default:
			strings = append(strings, NewRelayString(next, hint))
		}

		ackShare = s2
	}

	return strings, values, nil
}

// PreVerify checks the relay string against the challenge of the ticket that
// came with the packet, using the secret the relay shares with the sender.
// On success the relay learns its own key share and the challenges it needs
// to forward the packet and later claim the ticket.
func PreVerify(secret halfkey.SharedSecret, pors RelayString, ticketChallenge halfkey.EthereumChallenge) (Output, error) {
	ownKey := halfkey.DeriveOwnKeyShare(secret)

	ch, err := halfkey.ChallengeFromHintAndShare(ownKey.ToChallenge(), pors.Hint())
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	ec, err := ch.ToEthereumChallenge()
	if err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	if !ec.Equal(ticketChallenge) {
		return Output{}, &VerificationError{Expected: ticketChallenge, Actual: ec}
	}

	out := Output{
		OwnKey:              ownKey,
		NextTicketChallenge: pors.NextTicketChallenge(),
		AckChallenge:        pors.Hint(),
	}

	return out, nil
}
