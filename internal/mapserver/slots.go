package mapserver

import (
	"math/big"

	"github.com/fzmap/mapserver/internal/mapstore"
)

// Slots is the contention state of a point.
type Slots struct {
	Optimal mapstore.Slot
	Pending mapstore.Slot
	Unknown mapstore.Slot
}

// SlotsOf extracts the slots of p.
func SlotsOf(p *mapstore.Point) Slots {
	return Slots{Optimal: p.Optimal, Pending: p.Pending, Unknown: p.Unknown}
}

// Apply writes s back into p.
func (s Slots) Apply(p *mapstore.Point) {
	p.Optimal, p.Pending, p.Unknown = s.Optimal, s.Pending, s.Unknown
}

// Resolve checks a comparison answer against the slots it was asked about and
// returns the slots once the answer is applied. optimalPending and
// optimalUnknown are the ciphertexts the producer claims to be the larger of
// each pair, nil when the pair was not compared. changed reports that the
// optimal value was replaced.
//
// Ciphertexts are matched by identity: the producer must echo one of the two
// values it was sent.
func (s Slots) Resolve(optimalPending, optimalUnknown *big.Int) (next Slots, changed bool, err error) {
	next = s

	switch {
	case optimalPending != nil:
		if !s.Pending.Set {
			return s, false, ErrComparisonUnasked
		}
		if !sameValue(optimalPending, s.Optimal) {
			return s, false, ErrComparisonNotVerifiable
		}
		next.Pending = mapstore.Empty
	case s.Pending.Set:
		return s, false, ErrComparisonNotVerified
	}

	switch {
	case optimalUnknown != nil:
		if !s.Unknown.Set {
			return s, false, ErrComparisonUnasked
		}
		switch {
		case sameValue(optimalUnknown, s.Unknown):
			next.Pending = s.Optimal
			next.Optimal = s.Unknown
			changed = true
		case !sameValue(optimalUnknown, s.Optimal):
			return s, false, ErrComparisonInvalid
		case s.Optimal.Provider == s.Unknown.Provider:
			return s, false, ErrSubOptimalValue
		default:
			next.Pending = s.Unknown
		}
		next.Unknown = mapstore.Empty
	case s.Unknown.Set:
		return s, false, ErrComparisonNotPerformed
	}

	return next, changed, nil
}

func sameValue(v *big.Int, slot mapstore.Slot) bool {
	return slot.Set && slot.Value != nil && v.Cmp(slot.Value) == 0
}

// values returns the ciphertexts of the set slots, nil for the others.
func (s Slots) values() (optimal, pending, unknown *big.Int) {
	return slotValue(s.Optimal), slotValue(s.Pending), slotValue(s.Unknown)
}

func slotValue(s mapstore.Slot) *big.Int {
	if !s.Set || s.Value == nil {
		return nil
	}
	return new(big.Int).Set(s.Value)
}
