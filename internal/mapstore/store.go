// Package mapstore defines the persistence contract of the map server.
//
// Every protocol operation runs inside a single Update transaction: either all
// of its reads and writes commit, or none do. Backends must serialize
// read-write transactions so that a transaction always observes every commit
// that preceded it.
package mapstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("uniqueness constraint violated")

// Store opens transactions on the map data.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn in a read-write transaction, committed iff fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the set of reads and writes available inside a transaction. Returned
// records are copies; they are persisted only through the Put methods.
type Tx interface {
	Map(id uint64) (*Map, error)
	MapByName(name Name) (*Map, error)
	// CreateMap fails with ErrConflict if either the id or the name is taken.
	CreateMap(m *Map) error
	PutMap(m *Map) error

	Point(id uint64) (*Point, error)
	PointAt(mapID uint64, c Coordinate) (*Point, error)
	// CreatePoint assigns p.ID and fails with ErrConflict if the coordinate
	// is already stored for the map.
	CreatePoint(p *Point) error
	PutPoint(p *Point) error
	// Points returns every point of a map ordered by id.
	Points(mapID uint64) ([]*Point, error)

	MapUsage(mapID uint64, provider string) (*MapUsage, error)
	PutMapUsage(u *MapUsage) error

	ReverseQuerist(mapID uint64, producer string) (*ReverseQuerist, error)
	// CreateReverseQuerist fails with ErrConflict if a voucher is live.
	CreateReverseQuerist(r *ReverseQuerist) error
	DeleteReverseQuerist(mapID uint64, producer string) error

	AddBilling(b *Billing) error
	// Billings lists the billing records of client in insertion order, or
	// every record when client is empty.
	Billings(client string) ([]*Billing, error)
}
