package ticket

import (
	"fmt"
	"strings"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
)

// ChannelEpoch addresses the tickets of one channel generation.
type ChannelEpoch struct {
	ChannelID channel.ID
	Epoch     uint32
}

// String implements the fmt.Stringer interface.
func (ce ChannelEpoch) String() string {
	return fmt.Sprintf("%s@%d", ce.ChannelID, ce.Epoch)
}

// =============================================================================

// Selector describes a set of tickets. It always addresses at least one
// channel and epoch. The remaining criteria are optional and combined.
type Selector struct {
	channels       []ChannelEpoch
	index          *uint64
	start, end     uint64
	hasRange       bool
	state          *Status
	onlyAggregated bool
}

// NewSelector constructs a selector for the tickets of a single channel
// generation.
func NewSelector(id channel.ID, epoch uint32) Selector {
	return Selector{
		channels: []ChannelEpoch{{ChannelID: id, Epoch: epoch}},
	}
}

// SelectorFor constructs a selector matching the channel generation of the
// specified ticket.
func SelectorFor(t Ticket) Selector {
	return NewSelector(t.ChannelID, t.Epoch)
}

// Also adds another channel generation to the selector.
func (s Selector) Also(id channel.ID, epoch uint32) Selector {
	channels := make([]ChannelEpoch, len(s.channels), len(s.channels)+1)
	copy(channels, s.channels)
	s.channels = append(channels, ChannelEpoch{ChannelID: id, Epoch: epoch})

	return s
}

// WithIndex restricts the selector to a single ticket index.
func (s Selector) WithIndex(index uint64) Selector {
	s.index = &index
	s.hasRange = false
	return s
}

// WithIndexRange restricts the selector to the index range [start, end).
func (s Selector) WithIndexRange(start uint64, end uint64) Selector {
	s.start, s.end, s.hasRange = start, end, true
	s.index = nil
	return s
}

// WithState restricts the selector to tickets in the specified state.
func (s Selector) WithState(state Status) Selector {
	s.state = &state
	return s
}

// WithAggregatedOnly restricts the selector to aggregated tickets.
func (s Selector) WithAggregatedOnly() Selector {
	s.onlyAggregated = true
	return s
}

// Channels returns the channel generations the selector addresses.
func (s Selector) Channels() []ChannelEpoch {
	return append([]ChannelEpoch(nil), s.channels...)
}

// IsSingleChannel reports whether the selector addresses exactly one
// channel generation.
func (s Selector) IsSingleChannel() bool {
	return len(s.channels) == 1
}

// IndexBounds returns the index range [start, end) the selector covers.
func (s Selector) IndexBounds() (uint64, uint64) {
	switch {
	case s.index != nil:
		return *s.index, *s.index + 1
	case s.hasRange:
		return s.start, s.end
	}

	return 0, channel.MaxTicketIndex + 1
}

// Matches reports whether the acknowledged ticket is part of the set.
func (s Selector) Matches(a Acknowledged) bool {
	var found bool
	for _, ce := range s.channels {
		if ce.ChannelID == a.Ticket.ChannelID && ce.Epoch == a.Ticket.Epoch {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	start, end := s.IndexBounds()
	if a.Ticket.Index < start || a.Ticket.Index >= end {
		return false
	}

	if s.state != nil && *s.state != a.Status {
		return false
	}

	if s.onlyAggregated && !a.Ticket.IsAggregated() {
		return false
	}

	return true
}

// String implements the fmt.Stringer interface.
func (s Selector) String() string {
	parts := make([]string, 0, len(s.channels)+3)
	for _, ce := range s.channels {
		parts = append(parts, ce.String())
	}

	switch {
	case s.index != nil:
		parts = append(parts, fmt.Sprintf("index=%d", *s.index))
	case s.hasRange:
		parts = append(parts, fmt.Sprintf("index=[%d,%d)", s.start, s.end))
	}

	if s.state != nil {
		parts = append(parts, "state="+s.state.String())
	}

	if s.onlyAggregated {
		parts = append(parts, "aggregated")
	}

	return strings.Join(parts, " ")
}
