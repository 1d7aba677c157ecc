package mapserver

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/fzmap/mapserver/crypto/paillier"
	"github.com/fzmap/mapserver/internal/mapstore"
)

// GetComparisonsProvider opens a comparison round for a provider about to
// contribute to coords of a map. The map, the provider usage and the points
// are created on first sight. A known map must be registered again under the
// same name and modulus. A preview voucher the provider still holds on the map
// does not block it; the voucher stays redeemable.
func (s *Server) GetComparisonsProvider(ctx context.Context, mapID uint64, name mapstore.Name, n *big.Int,
	coords []mapstore.Coordinate, producer string) ([]Comparison, error) {
	var out []Comparison
	err := s.update(ctx, "get_comparisons_provider", producer, func(tx mapstore.Tx) error {
		if len(coords) == 0 {
			return ErrEmptyRequest
		}
		if err := s.checkModulus(n); err != nil {
			return err
		}
		m, err := s.registerMap(tx, mapID, name, n, producer)
		if err != nil {
			return err
		}
		if err := s.ensureUsage(tx, mapID, producer); err != nil {
			return err
		}

		points := make([]*mapstore.Point, 0, len(coords))
		for _, c := range dedupeCoordinates(coords) {
			p, err := s.pointOrCreate(tx, mapID, c)
			if err != nil {
				return err
			}
			points = append(points, p)
		}

		if !m.PastRequests.Contains(producer) {
			m.PastRequests = m.PastRequests.Add(producer)
			if err := tx.PutMap(m); err != nil {
				return err
			}
		}
		out, err = s.prepareComparisons(tx, points, producer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// registerMap returns the map mapID, creating it when unknown. The name and
// modulus of a known map cannot change.
func (s *Server) registerMap(tx mapstore.Tx, mapID uint64, name mapstore.Name, n *big.Int, producer string) (*mapstore.Map, error) {
	m, err := tx.Map(mapID)
	switch {
	case err == nil:
		if m.Name != name {
			return nil, ErrMapIdentityConflict
		}
		if m.PublicKeyN.Cmp(n) != 0 {
			return nil, ErrPublicKeyMismatch
		}
		return m, nil
	case !errors.Is(err, mapstore.ErrNotFound):
		return nil, err
	}

	other, err := tx.MapByName(name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: name already taken by map %d", ErrMapIdentityConflict, other.ID)
	case !errors.Is(err, mapstore.ErrNotFound):
		return nil, err
	}

	s.log.Debugw("requested map not stored, adding entry", "map", mapID, "producer", producer)
	m = &mapstore.Map{
		ID:            mapID,
		Name:          name,
		PublicKeyN:    new(big.Int).Set(n),
		FirstProvider: producer,
	}
	if err := tx.CreateMap(m); errors.Is(err, mapstore.ErrConflict) {
		return nil, ErrMapIdentityConflict
	} else if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Server) ensureUsage(tx mapstore.Tx, mapID uint64, provider string) error {
	_, err := tx.MapUsage(mapID, provider)
	if errors.Is(err, mapstore.ErrNotFound) {
		return tx.PutMapUsage(&mapstore.MapUsage{MapID: mapID, Provider: provider})
	}
	return err
}

func (s *Server) pointOrCreate(tx mapstore.Tx, mapID uint64, c mapstore.Coordinate) (*mapstore.Point, error) {
	p, err := tx.PointAt(mapID, c)
	if !errors.Is(err, mapstore.ErrNotFound) {
		return p, err
	}
	offset, err := s.initialOffset()
	if err != nil {
		return nil, err
	}
	p = &mapstore.Point{MapID: mapID, Coordinate: c, CurrentOffset: offset}
	if err := tx.CreatePoint(p); err != nil {
		return nil, err
	}
	return p, nil
}

// StoreRecords closes the comparison rounds of a provider and stores its
// contributions. A contributed value lands in the optimal slot of an empty
// point and in the unknown slot otherwise, masked by the point offset. Usage
// is summed into the point and provider totals. Either every record is
// applied or none is.
func (s *Server) StoreRecords(ctx context.Context, records []Record, producer string) error {
	return s.update(ctx, "store_records", producer, func(tx mapstore.Tx) error {
		if len(records) == 0 {
			return ErrEmptyRequest
		}
		seen := make(map[uint64]struct{}, len(records))
		for _, r := range records {
			if _, ok := seen[r.PointID]; ok {
				return fmt.Errorf("%w: point %d", ErrDuplicateEntry, r.PointID)
			}
			seen[r.PointID] = struct{}{}

			p, stale, err := s.storeComparison(tx, r.ComparisonResult, producer)
			if err != nil {
				return err
			}
			if stale && r.FZ != nil {
				return fmt.Errorf("%w: point %d", ErrStaleComparison, p.ID)
			}
			p.OpenRequests = p.OpenRequests.Remove(producer)

			pk, err := s.publicKey(tx, p.MapID)
			if err != nil {
				return err
			}
			if r.FZ != nil {
				if err := pk.Validate(r.FZ); err != nil {
					return fmt.Errorf("%w: fz of point %d", ErrInvalidCiphertext, p.ID)
				}
				fz, err := pk.AddPlain(r.FZ, p.CurrentOffset)
				if err != nil {
					return fmt.Errorf("masking point %d: %w", p.ID, err)
				}
				masked := mapstore.Filled(fz, producer)
				if p.Optimal.Set {
					p.Unknown = masked
				} else {
					p.Optimal = masked
					p.Vendees = nil
				}
			}
			if r.Usage != nil {
				if err := s.addUsage(tx, pk, p, r.Usage, producer); err != nil {
					return err
				}
			}
			if err := tx.PutPoint(p); err != nil {
				return err
			}
		}
		return nil
	})
}

// addUsage sums an encrypted usage into the totals of p and of the provider.
func (s *Server) addUsage(tx mapstore.Tx, pk *paillier.PublicKey, p *mapstore.Point, usage *big.Int, provider string) error {
	if err := pk.Validate(usage); err != nil {
		return fmt.Errorf("%w: usage of point %d", ErrInvalidCiphertext, p.ID)
	}
	total, err := addCiphertext(pk, p.UsageTotal, usage)
	if err != nil {
		return err
	}
	p.UsageTotal = total

	u, err := tx.MapUsage(p.MapID, provider)
	if errors.Is(err, mapstore.ErrNotFound) {
		u = &mapstore.MapUsage{MapID: p.MapID, Provider: provider}
	} else if err != nil {
		return err
	}
	if u.Usage, err = addCiphertext(pk, u.Usage, usage); err != nil {
		return err
	}
	return tx.PutMapUsage(u)
}

func addCiphertext(pk *paillier.PublicKey, total, v *big.Int) (*big.Int, error) {
	if total == nil {
		return new(big.Int).Set(v), nil
	}
	return pk.Add(total, v)
}
