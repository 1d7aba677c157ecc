package mapserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// GetPreviews returns a snapshot of every requested map, all values of a map
// shifted by one fresh preview offset. The offset is kept in a voucher that
// GetPreviewInfo redeems once. Maps without values are skipped; the call
// fails when no map yields a preview.
func (s *Server) GetPreviews(ctx context.Context, mapIDs []uint64, producer string) ([]Preview, error) {
	var out []Preview
	err := s.update(ctx, "get_previews", producer, func(tx mapstore.Tx) error {
		out = nil
		return s.previews(tx, mapIDs, producer, func(m *mapstore.Map, points []*mapstore.Point, offset int64) error {
			pk, err := s.keys.Get(m.ID, m.PublicKeyN)
			if err != nil {
				return err
			}
			preview := Preview{MapID: m.ID, Points: make([]RetrievedPoint, 0, len(points))}
			for _, p := range points {
				fz, err := pk.AddPlain(p.Optimal.Value, offset-p.CurrentOffset)
				if err != nil {
					return fmt.Errorf("shifting point %d: %w", p.ID, err)
				}
				preview.Points = append(preview.Points, RetrievedPoint{
					Coordinate: p.Coordinate,
					FZ:         fz,
					Usage:      p.UsageTotal,
				})
			}
			out = append(out, preview)
			return nil
		}, func(p *mapstore.Point) bool { return p.Optimal.Set })
	})
	if err != nil {
		return nil, err
	}
	metrics.PreviewsServed.WithLabelValues("paillier").Add(float64(len(out)))
	return out, nil
}

// GetPreviewsPlaintext is GetPreviews over plaintext values. Only available
// in Bypass mode.
func (s *Server) GetPreviewsPlaintext(ctx context.Context, mapIDs []uint64, producer string) ([]PlainPreview, error) {
	var out []PlainPreview
	err := s.update(ctx, "get_previews_plaintext", producer, func(tx mapstore.Tx) error {
		out = nil
		if !s.cfg.mode.allowsPlaintext() {
			return ErrPlaintextForbidden
		}
		return s.previews(tx, mapIDs, producer, func(m *mapstore.Map, points []*mapstore.Point, offset int64) error {
			preview := PlainPreview{MapID: m.ID, Points: make([]PlainPoint, 0, len(points))}
			for _, p := range points {
				preview.Points = append(preview.Points, PlainPoint{
					Coordinate: p.Coordinate,
					FZ:         p.Optimal.Value.Int64() + offset,
					Usage:      plainInt(p.UsageTotal),
				})
			}
			out = append(out, preview)
			return nil
		}, plainValued)
	})
	if err != nil {
		return nil, err
	}
	metrics.PreviewsServed.WithLabelValues("plaintext").Add(float64(len(out)))
	return out, nil
}

type previewFunc func(m *mapstore.Map, points []*mapstore.Point, offset int64) error

// previews checks that producer may preview every map, then hands the
// qualifying points of each non empty map to emit along with a fresh offset,
// and registers the voucher and billing entry of that preview.
func (s *Server) previews(tx mapstore.Tx, mapIDs []uint64, producer string, emit previewFunc,
	qualifies func(*mapstore.Point) bool) error {
	if len(mapIDs) == 0 {
		return ErrEmptyRequest
	}
	served := 0
	for _, id := range dedupeIDs(mapIDs) {
		m, err := s.regularQuery(tx, id, producer)
		if err != nil {
			return err
		}
		if m.PastRequests.Contains(producer) {
			return fmt.Errorf("%w: map %d", ErrAlreadyRegularQueried, id)
		}

		all, err := tx.Points(id)
		if err != nil {
			return err
		}
		points := all[:0]
		for _, p := range all {
			if qualifies(p) {
				points = append(points, p)
			}
		}
		if len(points) == 0 {
			s.log.Debugw("skipping preview of map without values", "map", id, "producer", producer)
			continue
		}

		offset, err := s.drawOffset()
		if err != nil {
			return err
		}
		if err := emit(m, points, offset); err != nil {
			return err
		}
		err = tx.CreateReverseQuerist(&mapstore.ReverseQuerist{
			MapID:      id,
			Producer:   producer,
			PointCount: len(points),
			Offset:     offset,
			Tool:       m.Name.Tool,
		})
		if err != nil {
			return err
		}
		if err := s.bill(tx, mapstore.BillingPreview, producer, id, len(points), nil); err != nil {
			return err
		}
		served++
	}
	if served == 0 {
		return ErrNoRelevantPoints
	}
	return nil
}

// GetPreviewInfo redeems the preview voucher of producer on a map, disclosing
// the preview offset and the tool of the map. The producer counts as having
// queried the map afterwards.
func (s *Server) GetPreviewInfo(ctx context.Context, mapID uint64, producer string) (PreviewInfo, error) {
	var info PreviewInfo
	err := s.update(ctx, "get_preview_info", producer, func(tx mapstore.Tx) error {
		m, err := tx.Map(mapID)
		if errors.Is(err, mapstore.ErrNotFound) {
			return fmt.Errorf("%w: map %d", ErrMapNotStored, mapID)
		} else if err != nil {
			return err
		}
		r, err := tx.ReverseQuerist(mapID, producer)
		if errors.Is(err, mapstore.ErrNotFound) {
			return fmt.Errorf("%w: map %d", ErrNeverReverseQueried, mapID)
		} else if err != nil {
			return err
		}
		if err := tx.DeleteReverseQuerist(mapID, producer); err != nil {
			return err
		}
		if err := s.markRegularQuery(tx, m, producer); err != nil {
			return err
		}
		info = PreviewInfo{Offset: r.Offset, Tool: r.Tool}
		return s.bill(tx, mapstore.BillingOffset, producer, mapID, r.PointCount, nil)
	})
	return info, err
}
