package mapserver

import (
	"errors"
	"fmt"

	"github.com/fzmap/mapserver/crypto/paillier"
	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// prepareComparisons hands producer the slots of every point and records it
// as owed a comparison. A producer that performed the last successful
// comparison of a point gets nothing to compare for it.
func (s *Server) prepareComparisons(tx mapstore.Tx, points []*mapstore.Point, producer string) ([]Comparison, error) {
	out := make([]Comparison, 0, len(points))
	for _, p := range points {
		c := Comparison{PointID: p.ID}
		if !s.cfg.mode.skipsRepeatComparisons() || p.LastComparator != producer {
			c.Optimal, c.Pending, c.Unknown = SlotsOf(p).values()
		}
		p.OpenRequests = p.OpenRequests.Add(producer)
		p.CurrentComparators = p.CurrentComparators.Add(producer)
		if err := tx.PutPoint(p); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// storeComparison validates and applies producer's answer for one point. The
// returned point is not persisted. stale reports an answer to a round that
// another producer already closed; such answers change nothing.
func (s *Server) storeComparison(tx mapstore.Tx, res ComparisonResult, producer string) (p *mapstore.Point, stale bool, err error) {
	p, err = tx.Point(res.PointID)
	if errors.Is(err, mapstore.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: point %d", ErrPointNotStored, res.PointID)
	} else if err != nil {
		return nil, false, err
	}
	if !p.OpenRequests.Contains(producer) {
		return nil, false, fmt.Errorf("%w: point %d", ErrComparisonNotRequested, p.ID)
	}
	if !p.CurrentComparators.Contains(producer) {
		return p, true, nil
	}

	if s.cfg.mode.skipsRepeatComparisons() && p.LastComparator == producer {
		if res.OptimalPending != nil || res.OptimalUnknown != nil {
			return nil, false, fmt.Errorf("%w: point %d", ErrComparisonUnasked, p.ID)
		}
		p.CurrentComparators = p.CurrentComparators.Remove(producer)
		return p, false, nil
	}

	next, changed, err := SlotsOf(p).Resolve(res.OptimalPending, res.OptimalUnknown)
	if err != nil {
		return nil, false, fmt.Errorf("%w: point %d", err, p.ID)
	}
	next.Apply(p)
	if changed {
		p.Vendees = nil
	}
	p.LastComparator = producer
	p.CurrentComparators = nil

	if err := s.rotateOffset(tx, p); err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// rotateOffset draws a new offset for p and moves its stored values under it.
func (s *Server) rotateOffset(tx mapstore.Tx, p *mapstore.Point) error {
	if !s.cfg.mode.rotatesOffsets() {
		return nil
	}
	pk, err := s.publicKey(tx, p.MapID)
	if err != nil {
		return err
	}
	offset, err := s.drawOffset()
	if err != nil {
		return err
	}
	if err := remask(pk, p, offset-p.CurrentOffset); err != nil {
		return fmt.Errorf("re-masking point %d: %w", p.ID, err)
	}
	p.CurrentOffset = offset
	metrics.OffsetRotations.Inc()
	return nil
}

// remask adds delta to every masked slot of p. The unknown slot is always
// empty when a round closes.
func remask(pk *paillier.PublicKey, p *mapstore.Point, delta int64) (err error) {
	if p.Optimal.Set {
		if p.Optimal.Value, err = pk.AddPlain(p.Optimal.Value, delta); err != nil {
			return err
		}
	}
	if p.Pending.Set {
		if p.Pending.Value, err = pk.AddPlain(p.Pending.Value, delta); err != nil {
			return err
		}
	}
	return nil
}
