package mapserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// GetComparisonsClient opens a comparison round for a client about to buy
// the points at coords. Points without a value, points the client contributed
// to and points it already bought are left out.
func (s *Server) GetComparisonsClient(ctx context.Context, mapID uint64, coords []mapstore.Coordinate,
	producer string) ([]Comparison, error) {
	var out []Comparison
	err := s.update(ctx, "get_comparisons_client", producer, func(tx mapstore.Tx) error {
		if len(coords) == 0 {
			return ErrEmptyRequest
		}
		m, err := s.regularQuery(tx, mapID, producer)
		if err != nil {
			return err
		}

		var points []*mapstore.Point
		for _, c := range dedupeCoordinates(coords) {
			p, err := tx.PointAt(mapID, c)
			if errors.Is(err, mapstore.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if p.Optimal.Set && sellable(p, producer) {
				points = append(points, p)
			}
		}
		if len(points) == 0 {
			return ErrNoRelevantPoints
		}

		if err := s.markRegularQuery(tx, m, producer); err != nil {
			return err
		}
		out, err = s.prepareComparisons(tx, points, producer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sellable reports whether client may buy p.
func sellable(p *mapstore.Point, client string) bool {
	return p.Optimal.Provider != client &&
		p.Unknown.Provider != client &&
		!p.Vendees.Contains(client)
}

// regularQuery loads the map a client queries, refusing clients holding a
// preview of it.
func (s *Server) regularQuery(tx mapstore.Tx, mapID uint64, client string) (*mapstore.Map, error) {
	m, err := tx.Map(mapID)
	if errors.Is(err, mapstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: map %d", ErrMapNotStored, mapID)
	} else if err != nil {
		return nil, err
	}
	_, err = tx.ReverseQuerist(mapID, client)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: map %d", ErrAlreadyReverseQueried, mapID)
	case !errors.Is(err, mapstore.ErrNotFound):
		return nil, err
	}
	return m, nil
}

func (s *Server) markRegularQuery(tx mapstore.Tx, m *mapstore.Map, client string) error {
	if m.PastRequests.Contains(client) {
		return nil
	}
	m.PastRequests = m.PastRequests.Add(client)
	return tx.PutMap(m)
}

// GetPoints closes the comparison rounds of a client and sells it the
// optimal values. Returned values are unmasked: they decrypt to the true
// values under the map key.
func (s *Server) GetPoints(ctx context.Context, results []ComparisonResult, producer string) ([]RetrievedPoint, error) {
	var out []RetrievedPoint
	err := s.update(ctx, "get_points", producer, func(tx mapstore.Tx) error {
		out = nil
		if len(results) == 0 {
			return ErrEmptyRequest
		}
		providers := make(map[string]int)
		seen := make(map[uint64]struct{}, len(results))
		for _, r := range results {
			if _, ok := seen[r.PointID]; ok {
				return fmt.Errorf("%w: point %d", ErrDuplicateEntry, r.PointID)
			}
			seen[r.PointID] = struct{}{}

			p, _, err := s.storeComparison(tx, r, producer)
			if err != nil {
				return err
			}
			if !p.Optimal.Set {
				return fmt.Errorf("%w: point %d holds no value", ErrNoRelevantPoints, p.ID)
			}
			p.OpenRequests = p.OpenRequests.Remove(producer)
			if s.cfg.mode.recordsVendees() {
				p.Vendees = p.Vendees.Add(producer)
			}
			if err := tx.PutPoint(p); err != nil {
				return err
			}

			pk, err := s.publicKey(tx, p.MapID)
			if err != nil {
				return err
			}
			fz, err := pk.AddPlain(p.Optimal.Value, -p.CurrentOffset)
			if err != nil {
				return fmt.Errorf("unmasking point %d: %w", p.ID, err)
			}
			out = append(out, RetrievedPoint{
				Coordinate: p.Coordinate,
				FZ:         fz,
				Usage:      p.UsageTotal,
			})
			providers[p.Optimal.Provider]++
		}
		return s.bill(tx, mapstore.BillingRetrieval, producer, 0, len(out), providers)
	})
	if err != nil {
		return nil, err
	}
	metrics.PointsSold.WithLabelValues("paillier").Add(float64(len(out)))
	return out, nil
}
