// Package mapserver implements the map server protocol: producers obtain
// masked values to compare, prove which of their values is optimal, buy
// points and preview whole maps, while the server never sees a plaintext.
package mapserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/crypto/paillier"
	"github.com/fzmap/mapserver/internal/mapstore"
	"github.com/fzmap/mapserver/internal/metrics"
)

// Server runs the protocol operations against a store. It keeps no state of
// its own besides a cache of parsed keys, so it is safe for concurrent use as
// long as the store serializes its read-write transactions.
type Server struct {
	store mapstore.Store
	cfg   *Config
	log   log.Logger
	keys  *paillier.KeyCache
}

// New returns a Server on store.
func New(store mapstore.Store, opts ...ConfigOption) (*Server, error) {
	cfg := NewConfig(opts...)
	if cfg.precision <= 0 {
		return nil, fmt.Errorf("offset precision must be positive, got %d", cfg.precision)
	}
	keys, err := paillier.NewKeyCache(cfg.keyCacheSize)
	if err != nil {
		return nil, err
	}
	return &Server{
		store: store,
		cfg:   cfg,
		log:   cfg.log.Named("mapserver"),
		keys:  keys,
	}, nil
}

// Mode returns the mode the server runs in.
func (s *Server) Mode() Mode {
	return s.cfg.mode
}

// update runs fn in one read-write transaction and accounts for it.
func (s *Server) update(ctx context.Context, op, producer string, fn func(tx mapstore.Tx) error) error {
	start := time.Now()
	s.log.Debugw("operation called", "op", op, "producer", producer)

	var err error
	if producer == "" {
		err = ErrInvalidProducer
	} else {
		err = s.store.Update(ctx, fn)
	}

	outcome := "ok"
	if err != nil {
		kind := KindOf(err)
		outcome = kind.String()
		if kind == KindInternal {
			s.log.Errorw("operation failed", "op", op, "producer", producer, "err", err)
		} else {
			s.log.Warnw("operation refused", "op", op, "producer", producer, "kind", outcome, "err", err)
		}
	} else {
		s.log.Infow(op+" took", "producer", producer, "took", time.Since(start))
	}
	metrics.ObserveOperation(op, outcome, start)
	return err
}

// Billings lists the billing records of client, all records when empty.
func (s *Server) Billings(ctx context.Context, client string) ([]*mapstore.Billing, error) {
	var out []*mapstore.Billing
	err := s.store.View(ctx, func(tx mapstore.Tx) error {
		var err error
		out, err = tx.Billings(client)
		return err
	})
	return out, err
}

func (s *Server) bill(tx mapstore.Tx, kind mapstore.BillingKind, client string, mapID uint64, count int, providers map[string]int) error {
	return tx.AddBilling(&mapstore.Billing{
		ID:         uuid.New(),
		Kind:       kind,
		Client:     client,
		MapID:      mapID,
		PointCount: count,
		Providers:  providers,
		Timestamp:  s.cfg.clock.Now().UTC(),
	})
}

// publicKey returns the key of mapID.
func (s *Server) publicKey(tx mapstore.Tx, mapID uint64) (*paillier.PublicKey, error) {
	m, err := tx.Map(mapID)
	if errors.Is(err, mapstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: map %d", ErrMapNotStored, mapID)
	} else if err != nil {
		return nil, err
	}
	return s.keys.Get(m.ID, m.PublicKeyN)
}

// drawOffset returns a uniform offset in [-precision, precision].
func (s *Server) drawOffset() (int64, error) {
	v, err := rand.Int(s.cfg.random, big.NewInt(2*s.cfg.precision+1))
	if err != nil {
		return 0, fmt.Errorf("drawing offset: %w", err)
	}
	return v.Int64() - s.cfg.precision, nil
}

// initialOffset is the offset of a freshly created point.
func (s *Server) initialOffset() (int64, error) {
	if !s.cfg.mode.rotatesOffsets() {
		return 0, nil
	}
	return s.drawOffset()
}

// checkModulus rejects a modulus too small for the masking arithmetic to
// stay clear of wrap-around.
func (s *Server) checkModulus(n *big.Int) error {
	if _, err := paillier.NewPublicKey(n); err != nil {
		return ErrInvalidModulus
	}
	if n.Cmp(big.NewInt(8*s.cfg.precision)) <= 0 {
		return fmt.Errorf("%w: modulus must exceed %d", ErrInvalidModulus, 8*s.cfg.precision)
	}
	return nil
}

func dedupeCoordinates(coords []mapstore.Coordinate) []mapstore.Coordinate {
	seen := make(map[mapstore.Coordinate]struct{}, len(coords))
	out := make([]mapstore.Coordinate, 0, len(coords))
	for _, c := range coords {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func dedupeIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
