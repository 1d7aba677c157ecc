package producer

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/crypto/paillier"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore"
)

var (
	keyOnce sync.Once
	testKey *paillier.PrivateKey
	keyErr  error
)

func key(t *testing.T) *paillier.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = paillier.GenerateKey(512)
	})
	require.NoError(t, keyErr)
	return testKey
}

func enc(t *testing.T, v int64) *big.Int {
	t.Helper()
	c, err := key(t).Encrypt(v)
	require.NoError(t, err)
	return c
}

func TestCompare(t *testing.T) {
	sk := key(t)
	fifty, seventy, forty, otherFifty := enc(t, 50), enc(t, 70), enc(t, 40), enc(t, 50)

	tests := []struct {
		name       string
		comparison mapserver.Comparison
		pending    *big.Int
		unknown    *big.Int
	}{
		{
			name:       "nothing offered",
			comparison: mapserver.Comparison{Optimal: fifty},
		},
		{
			name:       "unknown larger",
			comparison: mapserver.Comparison{Optimal: fifty, Unknown: seventy},
			unknown:    seventy,
		},
		{
			name:       "unknown smaller",
			comparison: mapserver.Comparison{Optimal: fifty, Unknown: forty},
			unknown:    fifty,
		},
		{
			name:       "tie goes to optimal",
			comparison: mapserver.Comparison{Optimal: fifty, Unknown: otherFifty},
			unknown:    fifty,
		},
		{
			name:       "both pairs",
			comparison: mapserver.Comparison{Optimal: fifty, Pending: forty, Unknown: seventy},
			pending:    fifty,
			unknown:    seventy,
		},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.comparison.PointID = uint64(i + 1)
			res, err := Compare(sk, []mapserver.Comparison{test.comparison})
			require.NoError(t, err)
			require.Len(t, res, 1)
			require.Equal(t, uint64(i+1), res[0].PointID)
			require.Equal(t, test.pending, res[0].OptimalPending)
			require.Equal(t, test.unknown, res[0].OptimalUnknown)
		})
	}

	_, err := Compare(sk, []mapserver.Comparison{{PointID: 9, Unknown: seventy}})
	require.ErrorIs(t, err, ErrMissingOptimal)
}

func TestProvide(t *testing.T) {
	sk := key(t)
	comparisons := []mapserver.Comparison{{PointID: 1}, {PointID: 2, Optimal: enc(t, 10), Unknown: enc(t, 20)}}

	_, err := Provide(sk, comparisons, []Value{{FZ: 1}})
	require.ErrorIs(t, err, ErrMismatchedValues)

	records, err := Provide(sk, comparisons, []Value{{FZ: 5, Usage: 1}, {FZ: 15, Usage: 2}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Nil(t, records[0].OptimalUnknown)
	require.Equal(t, comparisons[1].Unknown, records[1].OptimalUnknown)

	for i, want := range []int64{5, 15} {
		fz, err := sk.Decrypt(records[i].FZ)
		require.NoError(t, err)
		require.Equal(t, want, fz)
		usage, err := sk.Decrypt(records[i].Usage)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), usage)
	}
}

func TestDecryptAndUnmask(t *testing.T) {
	sk := key(t)
	at := mapstore.Coordinate{AP: 3, AE: 4}

	plain, err := Decrypt(sk, []mapserver.RetrievedPoint{{Coordinate: at, FZ: enc(t, 42)}})
	require.NoError(t, err)
	require.Equal(t, []mapserver.PlainPoint{{Coordinate: at, FZ: 42}}, plain)

	preview := mapserver.Preview{MapID: 1, Points: []mapserver.RetrievedPoint{
		{Coordinate: at, FZ: enc(t, 42-17), Usage: enc(t, 3)},
	}}
	plain, err = Unmask(sk, preview, mapserver.PreviewInfo{Offset: -17})
	require.NoError(t, err)
	require.Equal(t, []mapserver.PlainPoint{{Coordinate: at, FZ: 42, Usage: 3}}, plain)
}
