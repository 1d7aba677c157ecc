// Package producer implements the producer side of the map server protocol:
// the comparisons the server cannot perform because it never holds a private
// key, and the encryption of contributions.
package producer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/fzmap/mapserver/crypto/paillier"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore"
)

// ErrMismatchedValues is returned when the comparisons and the values to
// provide do not pair up.
var ErrMismatchedValues = errors.New("comparisons and values differ in length")

// ErrMissingOptimal is returned for a comparison offering values to compare
// against an absent optimal value.
var ErrMissingOptimal = errors.New("comparison lacks an optimal value")

// Compare answers every comparison with, for each offered pair, the
// ciphertext holding the larger value. Ties go to the optimal value.
func Compare(sk *paillier.PrivateKey, comparisons []mapserver.Comparison) ([]mapserver.ComparisonResult, error) {
	out := make([]mapserver.ComparisonResult, 0, len(comparisons))
	for _, c := range comparisons {
		res := mapserver.ComparisonResult{PointID: c.PointID}
		if c.Pending == nil && c.Unknown == nil {
			out = append(out, res)
			continue
		}
		if c.Optimal == nil {
			return nil, fmt.Errorf("point %d: %w", c.PointID, ErrMissingOptimal)
		}
		optimal, err := sk.Decrypt(c.Optimal)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", c.PointID, err)
		}
		if res.OptimalPending, err = larger(sk, c.Optimal, optimal, c.Pending); err != nil {
			return nil, fmt.Errorf("point %d: %w", c.PointID, err)
		}
		if res.OptimalUnknown, err = larger(sk, c.Optimal, optimal, c.Unknown); err != nil {
			return nil, fmt.Errorf("point %d: %w", c.PointID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func larger(sk *paillier.PrivateKey, optimalCt *big.Int, optimal int64, other *big.Int) (*big.Int, error) {
	if other == nil {
		return nil, nil
	}
	v, err := sk.Decrypt(other)
	if err != nil {
		return nil, err
	}
	if optimal < v {
		return other, nil
	}
	return optimalCt, nil
}

// Value is one plaintext contribution.
type Value struct {
	mapstore.Coordinate
	FZ    int64
	Usage int64
}

// Provide answers the comparisons of a provider and attaches the encrypted
// values. comparisons and values must be in the order of the coordinates the
// comparisons were requested for.
func Provide(sk *paillier.PrivateKey, comparisons []mapserver.Comparison, values []Value) ([]mapserver.Record, error) {
	if len(comparisons) != len(values) {
		return nil, ErrMismatchedValues
	}
	results, err := Compare(sk, comparisons)
	if err != nil {
		return nil, err
	}
	records := make([]mapserver.Record, 0, len(results))
	for i, res := range results {
		fz, err := sk.Encrypt(values[i].FZ)
		if err != nil {
			return nil, err
		}
		usage, err := sk.Encrypt(values[i].Usage)
		if err != nil {
			return nil, err
		}
		records = append(records, mapserver.Record{ComparisonResult: res, FZ: fz, Usage: usage})
	}
	return records, nil
}

// Decrypt reads retrieved points. A nil usage reads as zero.
func Decrypt(sk *paillier.PrivateKey, points []mapserver.RetrievedPoint) ([]mapserver.PlainPoint, error) {
	return decrypt(sk, points, 0)
}

// Unmask reads a preview once its offset is disclosed.
func Unmask(sk *paillier.PrivateKey, preview mapserver.Preview, info mapserver.PreviewInfo) ([]mapserver.PlainPoint, error) {
	return decrypt(sk, preview.Points, info.Offset)
}

func decrypt(sk *paillier.PrivateKey, points []mapserver.RetrievedPoint, offset int64) ([]mapserver.PlainPoint, error) {
	out := make([]mapserver.PlainPoint, 0, len(points))
	for _, p := range points {
		fz, err := sk.Decrypt(p.FZ)
		if err != nil {
			return nil, fmt.Errorf("fz at %v: %w", p.Coordinate, err)
		}
		var usage int64
		if p.Usage != nil {
			if usage, err = sk.Decrypt(p.Usage); err != nil {
				return nil, fmt.Errorf("usage at %v: %w", p.Coordinate, err)
			}
		}
		out = append(out, mapserver.PlainPoint{Coordinate: p.Coordinate, FZ: fz - offset, Usage: usage})
	}
	return out, nil
}
