package mapserver

import (
	"context"
	"errors"
	"math/big"

	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// StoreRecordsPlaintext stores plaintext contributions without a comparison
// round: the larger value wins directly. Only available in Bypass mode.
func (s *Server) StoreRecordsPlaintext(ctx context.Context, mapID uint64, name mapstore.Name, n *big.Int,
	records []PlainRecord, producer string) error {
	return s.update(ctx, "store_records_plaintext", producer, func(tx mapstore.Tx) error {
		if !s.cfg.mode.allowsPlaintext() {
			return ErrPlaintextForbidden
		}
		if len(records) == 0 {
			return ErrEmptyRequest
		}
		if n == nil || n.Sign() <= 0 {
			return ErrInvalidModulus
		}
		if _, err := s.registerMap(tx, mapID, name, n, producer); err != nil {
			return err
		}
		usage, err := tx.MapUsage(mapID, producer)
		if errors.Is(err, mapstore.ErrNotFound) {
			usage = &mapstore.MapUsage{MapID: mapID, Provider: producer, Usage: new(big.Int)}
		} else if err != nil {
			return err
		}
		if usage.Usage == nil {
			usage.Usage = new(big.Int)
		}

		for _, r := range records {
			p, err := tx.PointAt(mapID, r.Coordinate)
			created := errors.Is(err, mapstore.ErrNotFound)
			if created {
				p = &mapstore.Point{MapID: mapID, Coordinate: r.Coordinate}
			} else if err != nil {
				return err
			}

			if r.FZ != 0 {
				fz := big.NewInt(r.FZ)
				if !p.Optimal.Set || fz.Cmp(p.Optimal.Value) > 0 {
					p.Optimal = mapstore.Filled(fz, producer)
					p.Vendees = nil
				}
			}
			if r.Usage != 0 || created {
				if p.UsageTotal == nil {
					p.UsageTotal = new(big.Int)
				}
				p.UsageTotal.Add(p.UsageTotal, big.NewInt(r.Usage))
				usage.Usage.Add(usage.Usage, big.NewInt(r.Usage))
			}

			if created {
				err = tx.CreatePoint(p)
			} else {
				err = tx.PutPoint(p)
			}
			if err != nil {
				return err
			}
		}
		return tx.PutMapUsage(usage)
	})
}

// GetPointsPlaintext sells plaintext points to a client, applying the same
// exclusions and bookkeeping as the encrypted path. Only available in Bypass
// mode.
func (s *Server) GetPointsPlaintext(ctx context.Context, mapID uint64, coords []mapstore.Coordinate,
	producer string) ([]PlainPoint, error) {
	var out []PlainPoint
	err := s.update(ctx, "get_points_plaintext", producer, func(tx mapstore.Tx) error {
		out = nil
		if !s.cfg.mode.allowsPlaintext() {
			return ErrPlaintextForbidden
		}
		if len(coords) == 0 {
			return ErrEmptyRequest
		}
		m, err := s.regularQuery(tx, mapID, producer)
		if err != nil {
			return err
		}

		providers := make(map[string]int)
		for _, c := range dedupeCoordinates(coords) {
			p, err := tx.PointAt(mapID, c)
			if errors.Is(err, mapstore.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if !plainValued(p) || !sellable(p, producer) {
				continue
			}
			if s.cfg.mode.recordsVendees() {
				p.Vendees = p.Vendees.Add(producer)
				if err := tx.PutPoint(p); err != nil {
					return err
				}
			}
			out = append(out, PlainPoint{Coordinate: p.Coordinate, FZ: p.Optimal.Value.Int64(), Usage: plainInt(p.UsageTotal)})
			providers[p.Optimal.Provider]++
		}
		if len(out) == 0 {
			return ErrNoRelevantPoints
		}
		if err := s.markRegularQuery(tx, m, producer); err != nil {
			return err
		}
		return s.bill(tx, mapstore.BillingRetrieval, producer, mapID, len(out), providers)
	})
	if err != nil {
		return nil, err
	}
	metrics.PointsSold.WithLabelValues("plaintext").Add(float64(len(out)))
	return out, nil
}

// plainValued reports whether p holds a positive plaintext optimal value.
func plainValued(p *mapstore.Point) bool {
	return p.Optimal.Set && p.Optimal.Value != nil && p.Optimal.Value.Sign() > 0 && p.Optimal.Value.IsInt64()
}

func plainInt(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}
