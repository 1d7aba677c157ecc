// Package memdb is an in-memory map store. Update works on a copy of the data
// that replaces the live one only when the transaction succeeds.
package memdb

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fzmap/mapserver/internal/mapstore"
)

var errReadOnly = errors.New("write in read-only transaction")

type usageKey struct {
	mapID    uint64
	producer string
}

type coordKey struct {
	mapID uint64
	mapstore.Coordinate
}

type data struct {
	maps     map[uint64]*mapstore.Map
	names    map[mapstore.Name]uint64
	points   map[uint64]*mapstore.Point
	coords   map[coordKey]uint64
	usage    map[usageKey]*mapstore.MapUsage
	querists map[usageKey]*mapstore.ReverseQuerist
	billing  []*mapstore.Billing
	pointSeq uint64
}

func newData() *data {
	return &data{
		maps:     make(map[uint64]*mapstore.Map),
		names:    make(map[mapstore.Name]uint64),
		points:   make(map[uint64]*mapstore.Point),
		coords:   make(map[coordKey]uint64),
		usage:    make(map[usageKey]*mapstore.MapUsage),
		querists: make(map[usageKey]*mapstore.ReverseQuerist),
	}
}

// clone copies the containers. Records themselves are immutable once stored:
// every write replaces them with a fresh copy.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.maps {
		c.maps[k] = v
	}
	for k, v := range d.names {
		c.names[k] = v
	}
	for k, v := range d.points {
		c.points[k] = v
	}
	for k, v := range d.coords {
		c.coords[k] = v
	}
	for k, v := range d.usage {
		c.usage[k] = v
	}
	for k, v := range d.querists {
		c.querists[k] = v
	}
	c.billing = append(c.billing, d.billing...)
	c.pointSeq = d.pointSeq
	return c
}

// Store implements mapstore.Store in memory.
type Store struct {
	mtx  sync.RWMutex
	data *data
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newData()}
}

// View implements mapstore.Store.
func (s *Store) View(ctx context.Context, fn func(mapstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return fn(&memTx{data: s.data, readOnly: true})
}

// Update implements mapstore.Store.
func (s *Store) Update(ctx context.Context, fn func(mapstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	next := s.data.clone()
	if err := fn(&memTx{data: next}); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

type memTx struct {
	data     *data
	readOnly bool
}

func (m *memTx) writable() error {
	if m.readOnly {
		return errReadOnly
	}
	return nil
}

func (m *memTx) Map(id uint64) (*mapstore.Map, error) {
	v, ok := m.data.maps[id]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	return v.Clone(), nil
}

func (m *memTx) MapByName(name mapstore.Name) (*mapstore.Map, error) {
	id, ok := m.data.names[name]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	return m.Map(id)
}

func (m *memTx) CreateMap(mp *mapstore.Map) error {
	if err := m.writable(); err != nil {
		return err
	}
	if _, ok := m.data.maps[mp.ID]; ok {
		return mapstore.ErrConflict
	}
	if _, ok := m.data.names[mp.Name]; ok {
		return mapstore.ErrConflict
	}
	m.data.maps[mp.ID] = mp.Clone()
	m.data.names[mp.Name] = mp.ID
	return nil
}

func (m *memTx) PutMap(mp *mapstore.Map) error {
	if err := m.writable(); err != nil {
		return err
	}
	old, ok := m.data.maps[mp.ID]
	if !ok {
		return mapstore.ErrNotFound
	}
	if old.Name != mp.Name {
		return errors.New("maps cannot be renamed")
	}
	m.data.maps[mp.ID] = mp.Clone()
	return nil
}

func (m *memTx) Point(id uint64) (*mapstore.Point, error) {
	p, ok := m.data.points[id]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *memTx) PointAt(mapID uint64, c mapstore.Coordinate) (*mapstore.Point, error) {
	id, ok := m.data.coords[coordKey{mapID, c}]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	return m.Point(id)
}

func (m *memTx) CreatePoint(p *mapstore.Point) error {
	if err := m.writable(); err != nil {
		return err
	}
	key := coordKey{p.MapID, p.Coordinate}
	if _, ok := m.data.coords[key]; ok {
		return mapstore.ErrConflict
	}
	m.data.pointSeq++
	p.ID = m.data.pointSeq
	m.data.coords[key] = p.ID
	m.data.points[p.ID] = p.Clone()
	return nil
}

func (m *memTx) PutPoint(p *mapstore.Point) error {
	if err := m.writable(); err != nil {
		return err
	}
	if _, ok := m.data.points[p.ID]; !ok {
		return mapstore.ErrNotFound
	}
	m.data.points[p.ID] = p.Clone()
	return nil
}

func (m *memTx) Points(mapID uint64) ([]*mapstore.Point, error) {
	var out []*mapstore.Point
	for _, p := range m.data.points {
		if p.MapID == mapID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTx) MapUsage(mapID uint64, provider string) (*mapstore.MapUsage, error) {
	u, ok := m.data.usage[usageKey{mapID, provider}]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	return u.Clone(), nil
}

func (m *memTx) PutMapUsage(u *mapstore.MapUsage) error {
	if err := m.writable(); err != nil {
		return err
	}
	m.data.usage[usageKey{u.MapID, u.Provider}] = u.Clone()
	return nil
}

func (m *memTx) ReverseQuerist(mapID uint64, producer string) (*mapstore.ReverseQuerist, error) {
	r, ok := m.data.querists[usageKey{mapID, producer}]
	if !ok {
		return nil, mapstore.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memTx) CreateReverseQuerist(r *mapstore.ReverseQuerist) error {
	if err := m.writable(); err != nil {
		return err
	}
	key := usageKey{r.MapID, r.Producer}
	if _, ok := m.data.querists[key]; ok {
		return mapstore.ErrConflict
	}
	c := *r
	m.data.querists[key] = &c
	return nil
}

func (m *memTx) DeleteReverseQuerist(mapID uint64, producer string) error {
	if err := m.writable(); err != nil {
		return err
	}
	key := usageKey{mapID, producer}
	if _, ok := m.data.querists[key]; !ok {
		return mapstore.ErrNotFound
	}
	delete(m.data.querists, key)
	return nil
}

func (m *memTx) AddBilling(b *mapstore.Billing) error {
	if err := m.writable(); err != nil {
		return err
	}
	c := *b
	if b.Providers != nil {
		c.Providers = make(map[string]int, len(b.Providers))
		for k, v := range b.Providers {
			c.Providers[k] = v
		}
	}
	m.data.billing = append(m.data.billing, &c)
	return nil
}

func (m *memTx) Billings(client string) ([]*mapstore.Billing, error) {
	var out []*mapstore.Billing
	for _, b := range m.data.billing {
		if client == "" || b.Client == client {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}
