package mapserver

import (
	"fmt"
	"strings"
)

// Mode selects how the protocol treats comparisons and plaintext access.
type Mode uint8

const (
	// Secure is the production mode: values stay encrypted and masked,
	// producers are remembered as vendees and plaintext access is refused.
	Secure Mode = iota
	// Bypass is the evaluation mode. Offsets stay fixed, repeated
	// comparisons are not short-circuited, vendees are not recorded and the
	// plaintext operations are available.
	Bypass
)

func (m Mode) String() string {
	switch m {
	case Secure:
		return "secure"
	case Bypass:
		return "bypass"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode reads a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "secure":
		return Secure, nil
	case "bypass", "eval", "evaluation":
		return Bypass, nil
	default:
		return Secure, fmt.Errorf("unknown mode %q", s)
	}
}

// skipsRepeatComparisons reports whether the last comparator of a point is
// spared a new comparison round.
func (m Mode) skipsRepeatComparisons() bool {
	return m == Secure
}

func (m Mode) recordsVendees() bool {
	return m == Secure
}

func (m Mode) rotatesOffsets() bool {
	return m == Secure
}

func (m Mode) allowsPlaintext() bool {
	return m == Bypass
}
