package mapserver

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/internal/mapstore"
)

func ct(v int64) *big.Int {
	return big.NewInt(v)
}

func TestSlotsResolve(t *testing.T) {
	optimal := mapstore.Filled(ct(101), "alice")
	pending := mapstore.Filled(ct(202), "bob")
	unknown := mapstore.Filled(ct(303), "carol")
	ownUnknown := mapstore.Filled(ct(404), "alice")

	tests := []struct {
		name           string
		slots          Slots
		optimalPending *big.Int
		optimalUnknown *big.Int
		expected       Slots
		changed        bool
		err            error
	}{
		{
			name:     "nothing to compare",
			slots:    Slots{Optimal: optimal},
			expected: Slots{Optimal: optimal},
		},
		{
			name:     "empty point",
			slots:    Slots{},
			expected: Slots{},
		},
		{
			name:           "pending verified",
			slots:          Slots{Optimal: optimal, Pending: pending},
			optimalPending: ct(101),
			expected:       Slots{Optimal: optimal},
		},
		{
			name:           "pending claimed larger",
			slots:          Slots{Optimal: optimal, Pending: pending},
			optimalPending: ct(202),
			err:            ErrComparisonNotVerifiable,
		},
		{
			name:           "pending never offered",
			slots:          Slots{Optimal: optimal},
			optimalPending: ct(101),
			err:            ErrComparisonUnasked,
		},
		{
			name:  "pending skipped",
			slots: Slots{Optimal: optimal, Pending: pending},
			err:   ErrComparisonNotVerified,
		},
		{
			name:           "unknown wins",
			slots:          Slots{Optimal: optimal, Unknown: unknown},
			optimalUnknown: ct(303),
			expected:       Slots{Optimal: unknown, Pending: optimal},
			changed:        true,
		},
		{
			name:           "unknown loses",
			slots:          Slots{Optimal: optimal, Unknown: unknown},
			optimalUnknown: ct(101),
			expected:       Slots{Optimal: optimal, Pending: unknown},
		},
		{
			name:           "unknown answered with a foreign value",
			slots:          Slots{Optimal: optimal, Unknown: unknown},
			optimalUnknown: ct(999),
			err:            ErrComparisonInvalid,
		},
		{
			name:           "unknown never offered",
			slots:          Slots{Optimal: optimal},
			optimalUnknown: ct(101),
			err:            ErrComparisonUnasked,
		},
		{
			name:  "unknown skipped",
			slots: Slots{Optimal: optimal, Unknown: unknown},
			err:   ErrComparisonNotPerformed,
		},
		{
			name:           "provider downgrades own value",
			slots:          Slots{Optimal: optimal, Unknown: ownUnknown},
			optimalUnknown: ct(101),
			err:            ErrSubOptimalValue,
		},
		{
			name:           "provider downgrades own value with pending present",
			slots:          Slots{Optimal: optimal, Pending: pending, Unknown: ownUnknown},
			optimalPending: ct(101),
			optimalUnknown: ct(101),
			err:            ErrSubOptimalValue,
		},
		{
			name:           "provider improves own value",
			slots:          Slots{Optimal: optimal, Unknown: ownUnknown},
			optimalUnknown: ct(404),
			expected:       Slots{Optimal: ownUnknown, Pending: optimal},
			changed:        true,
		},
		{
			name:           "both pairs resolved, unknown wins",
			slots:          Slots{Optimal: optimal, Pending: pending, Unknown: unknown},
			optimalPending: ct(101),
			optimalUnknown: ct(303),
			expected:       Slots{Optimal: unknown, Pending: optimal},
			changed:        true,
		},
		{
			name:           "both pairs resolved, unknown replaces pending",
			slots:          Slots{Optimal: optimal, Pending: pending, Unknown: unknown},
			optimalPending: ct(101),
			optimalUnknown: ct(101),
			expected:       Slots{Optimal: optimal, Pending: unknown},
		},
		{
			name:           "pending verified but unknown skipped",
			slots:          Slots{Optimal: optimal, Pending: pending, Unknown: unknown},
			optimalPending: ct(101),
			err:            ErrComparisonNotPerformed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, changed, err := test.slots.Resolve(test.optimalPending, test.optimalUnknown)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				require.Equal(t, test.slots, next)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, next)
			require.Equal(t, test.changed, changed)
		})
	}
}

func TestSlotsApply(t *testing.T) {
	p := &mapstore.Point{Optimal: mapstore.Filled(ct(1), "a")}
	s := SlotsOf(p)
	s.Pending = mapstore.Filled(ct(2), "b")
	s.Apply(p)
	require.Equal(t, "b", p.Pending.Provider)

	optimal, pending, unknown := s.values()
	require.Equal(t, ct(1), optimal)
	require.Equal(t, ct(2), pending)
	require.Nil(t, unknown)
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{ErrComparisonUnasked, KindInvalidArgument},
		{ErrNoRelevantPoints, KindNotFound},
		{ErrPublicKeyMismatch, KindConflict},
		{ErrPlaintextForbidden, KindPrecondition},
		{nil, KindInternal},
	}
	for _, test := range tests {
		require.Equal(t, test.kind, KindOf(test.err))
	}
	require.Equal(t, KindNotFound, KindOf(fmt.Errorf("%w: point 7", ErrPointNotStored)))
	require.Equal(t, "precondition", KindPrecondition.String())
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"", "secure", "SECURE"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		require.Equal(t, Secure, m)
	}
	m, err := ParseMode("bypass")
	require.NoError(t, err)
	require.Equal(t, Bypass, m)
	require.Equal(t, "bypass", m.String())

	_, err = ParseMode("fast")
	require.Error(t, err)

	require.True(t, Secure.rotatesOffsets())
	require.False(t, Secure.allowsPlaintext())
	require.True(t, Bypass.allowsPlaintext())
	require.False(t, Bypass.recordsVendees())
}
